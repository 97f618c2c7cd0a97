// Package faults defines the error taxonomy shared across the agent.
//
// Each category carries enough context to log a failure without the caller
// reconstructing it, and unwraps to the underlying cause so callers can still
// match with errors.Is/errors.As.
package faults

import "fmt"

// StorageError reports a failed atomic write or file replacement. It is fatal
// to the workflow iteration that triggered it.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PermissionError reports a failure to apply or verify file permissions.
type PermissionError struct {
	Path string
	Mode uint32
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission: set %04o on %s: %v", e.Mode, e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// NetworkError reports a transport-level failure (CRL fetch, enrollment
// POST). Recoverable: the next interval retries from scratch.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a CA-side rejection of a CSR or token. Recoverable,
// but logged distinctly from transport failures since it usually means
// misconfiguration rather than a transient fault.
type ProtocolError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("protocol: %s rejected (HTTP %d): %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("protocol: %s rejected: %s", e.Op, e.Detail)
}

// ParseError reports a malformed certificate, key, or CRL.
type ParseError struct {
	What string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s at %s: %v", e.What, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
