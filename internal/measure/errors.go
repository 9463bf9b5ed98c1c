package measure

import "errors"

var (
	ErrNoTargets          = errors.New("no download targets")
	ErrStreamFailed       = errors.New("stream failed")
	ErrAllStreamsFailed   = errors.New("all download streams failed")
	ErrMeasurementTimeout = errors.New("measurement timed out before any sample was taken")
)
