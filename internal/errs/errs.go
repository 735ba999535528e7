// Package errs defines the failure taxonomy shared by the ingestion stages.
//
// Stage errors wrap one of the sentinels below so callers can classify a
// failure with errors.Is without depending on the stage that produced it:
//
//	if errors.Is(err, errs.ErrTransport) { ... }
package errs

import "errors"

var (
	// ErrConfiguration marks missing or invalid settings. Detected before any
	// network call is attempted.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport marks download failures: bad HTTP status, timeout, or a body
	// that cannot be parsed as CSV.
	ErrTransport = errors.New("transport error")

	// ErrLoad marks clear/insert/commit failures in the load stage.
	ErrLoad = errors.New("load error")

	// ErrVerification marks post-load query failures.
	ErrVerification = errors.New("verification error")

	// ErrConnection marks warehouse session failures (open, ping, identity).
	ErrConnection = errors.New("connection error")
)

// Kind returns the sentinel err wraps, or nil when err is unclassified.
func Kind(err error) error {
	for _, k := range []error{ErrConfiguration, ErrTransport, ErrLoad, ErrVerification, ErrConnection} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
