//go:build !fips
// +build !fips

// Package crypto implements cryptographic primitives for Quantum-Shield.
//
// This file is compiled when the "fips" build tag is NOT specified.
// In standard mode, self-test failures are reported as errors.
package crypto

// FIPSMode reports whether the binary was built in FIPS mode.
// When false, POST and CST failures are returned to the caller.
func FIPSMode() bool { return false }
