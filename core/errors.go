package core

import "fmt"

// ValidationError indicates the caller supplied invalid input, e.g. indexing
// a memory without an embedding. Never retried; surfaced immediately.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// StorageError indicates a backing-store I/O failure, a corrupt blob, or a
// failed hydration. Retry decisions belong to the orchestrator boundary.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CryptoError indicates malformed or truncated ciphertext. Fatal to the
// record being processed; callers must not substitute raw bytes as plaintext.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}
