// Package errors defines custom error types for the Quantum-Shield image encryption system.
// These errors provide detailed information for debugging while maintaining
// security by not leaking key material or passwords in error messages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for key material generation
var (
	// ErrRandomnessUnavailable indicates that no randomness backend could produce bits
	ErrRandomnessUnavailable = errors.New("qrand: randomness unavailable")

	// ErrInvalidParameter indicates a negative size, unknown purity or malformed argument
	ErrInvalidParameter = errors.New("shield: invalid parameter")
)

// Sentinel errors for cipher operations
var (
	// ErrKeyLengthMismatch indicates the keystream length differs from the buffer length
	ErrKeyLengthMismatch = errors.New("cipher: key length mismatch")
)

// Sentinel errors for key storage
var (
	// ErrIntegrityViolation indicates the blob authentication tag did not verify
	ErrIntegrityViolation = errors.New("keystore: integrity check failed")

	// ErrMissingCredential indicates an encrypted blob was opened without a password
	ErrMissingCredential = errors.New("keystore: password required")

	// ErrSerialization indicates a malformed, truncated or inconsistent blob
	ErrSerialization = errors.New("keystore: malformed blob")

	// ErrNotFound indicates the requested blob does not exist in the store
	ErrNotFound = errors.New("keystore: blob not found")
)

// Kind classifies an error by the sentinel at the root of its chain
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRandomnessUnavailable
	KindInvalidParameter
	KindKeyLengthMismatch
	KindIntegrityViolation
	KindMissingCredential
	KindSerialization
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindRandomnessUnavailable: "randomness_unavailable",
	KindInvalidParameter:      "invalid_parameter",
	KindKeyLengthMismatch:     "key_length_mismatch",
	KindIntegrityViolation:    "integrity_violation",
	KindMissingCredential:     "missing_credential",
	KindSerialization:         "serialization",
	KindNotFound:              "not_found",
}

// String returns the snake_case name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf returns the Kind of the first sentinel found in err's chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRandomnessUnavailable):
		return KindRandomnessUnavailable
	case errors.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, ErrKeyLengthMismatch):
		return KindKeyLengthMismatch
	case errors.Is(err, ErrIntegrityViolation):
		return KindIntegrityViolation
	case errors.Is(err, ErrMissingCredential):
		return KindMissingCredential
	case errors.Is(err, ErrSerialization):
		return KindSerialization
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// StorageError wraps a key store error with the blob location
type StorageError struct {
	Path string // Blob identifier or file path
	Err  error  // Underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError
func NewStorageError(path string, err error) *StorageError {
	return &StorageError{Path: path, Err: err}
}

// Invalid returns a CryptoError wrapping ErrInvalidParameter with a detail message.
func Invalid(op, format string, args ...interface{}) *CryptoError {
	return &CryptoError{Op: op, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidParameter}, args...)...)}
}

// Malformed returns a CryptoError wrapping ErrSerialization with a detail message.
func Malformed(op, format string, args ...interface{}) *CryptoError {
	return &CryptoError{Op: op, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrSerialization}, args...)...)}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
