//go:build fips
// +build fips

// Package crypto implements cryptographic primitives for Quantum-Shield.
//
// This file is compiled when the "fips" build tag is specified.
// In FIPS mode, self-test failures are fatal.
package crypto

// FIPSMode reports whether the binary was built in FIPS mode.
// When true, POST and CST failures panic instead of returning errors.
func FIPSMode() bool { return true }
