//go:build !linux

package metric

import (
	"context"
	"errors"
)

// DefaultGateway needs netlink and is only implemented on linux.
func DefaultGateway(context.Context) (Gateway, error) {
	return Gateway{}, errors.New("default gateway lookup is not supported on this platform")
}
