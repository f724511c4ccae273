// Package safego runs best-effort background work without letting a panic
// take down the process.
package safego

import (
	"fmt"

	"forms-api/pkg/logging"

	"github.com/getsentry/sentry-go"
)

// Go launches fn in a new goroutine. A panic inside fn is recovered, logged
// and reported to Sentry.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("recovered panic in background task %s: %v", name, r)
				sentry.CaptureException(fmt.Errorf("panic in background task %s: %v", name, r))
			}
		}()
		fn()
	}()
}
