package report

import (
	"strings"
	"time"
)

const (
	maxRetries       = 5
	initialRetryWait = 10 * time.Millisecond
)

// isSQLiteBusy reports whether the error is a transient sqlite lock
// contention error worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs fn, retrying with exponential backoff while it returns a
// busy error. Non-busy errors fail immediately.
func retryOnBusy(fn func() error) error {
	wait := initialRetryWait
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(wait)
		wait *= 2
	}
	return err
}
