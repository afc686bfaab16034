package alwaysoffline

import (
	"errors"
	"fmt"
)

// ErrNotActivated is returned for events that need an activated agent.
var ErrNotActivated = errors.New("agent is not activated")

// StorageError is a failed read or write of a cache generation.
type StorageError struct {
	Op         string
	Generation string
	Key        string
	Err        error
}

func (e *StorageError) Error() string {
	msg := "storage: " + e.Op
	if e.Generation != "" {
		msg += " " + e.Generation
	}
	if e.Key != "" {
		msg += " " + e.Key
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NetworkError is a failed fetch: offline, DNS, timeout, abort or a refused connection.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is or wraps a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
