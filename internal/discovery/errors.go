package discovery

import "errors"

var (
	ErrDiscoveryFailed = errors.New("target discovery failed")
	ErrTokenNotFound   = errors.New("api token not found")
	ErrNoTargets       = errors.New("no download targets returned")
)
