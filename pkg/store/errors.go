// Package store provides the persistence backends for identities and
// attendance events: an encrypted file store and a PostgreSQL store.
package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks an I/O failure on a backend that may succeed on
// retry. The session boundary retries these with backoff; pure decision
// code never does.
var ErrUnavailable = errors.New("store unavailable")

// Unavailable wraps err so it matches ErrUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// IsUnavailable reports whether err is a retryable store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
