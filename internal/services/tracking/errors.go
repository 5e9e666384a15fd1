package tracking

import "github.com/pkg/errors"

var (
	ErrPermissionDenied          = errors.New("location permission denied")
	ErrWatcherRegistrationFailed = errors.New("position watcher registration failed")
	ErrFlushFailed               = errors.New("location flush failed")
	ErrNotTracking               = errors.New("order is not being tracked")
)
