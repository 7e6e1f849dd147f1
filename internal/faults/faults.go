// Package faults defines the error taxonomy shared by all components.
// Callers classify failures with errors.Is against the sentinel kinds.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConfig marks a missing or invalid configuration value. Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrTransport marks a network-level failure talking to an external service.
	ErrTransport = errors.New("transport error")

	// ErrTimeout marks a call that exceeded its deadline. Kept distinct from
	// ErrTransport so callers can treat it as transient.
	ErrTimeout = errors.New("timeout")

	// ErrData marks malformed input data: bad file, missing column, unparseable row.
	ErrData = errors.New("data error")

	// ErrIntegrity marks an approval-integrity failure: unparseable embedded
	// payload or a fingerprint mismatch. Never treated as approved.
	ErrIntegrity = errors.New("approval integrity error")

	// ErrNotFound marks a lookup miss (secret, attachment, issue).
	ErrNotFound = errors.New("not found")
)

// Configf wraps a formatted message with ErrConfig.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Dataf wraps a formatted message with ErrData.
func Dataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// Integrityf wraps a formatted message with ErrIntegrity.
func Integrityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// Classify maps a raw error from an HTTP or exec call onto the taxonomy.
// Deadline and net timeouts become ErrTimeout, everything else ErrTransport.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

// IsTransient reports whether the error is worth retrying on the next wake.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
