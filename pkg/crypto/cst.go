// Package crypto implements Conditional Self-Tests (CST) for randomness sources.
//
// Conditional Self-Tests differ from Power-On Self-Tests (POST) in that they run
// when a randomness backend is brought up or while it is producing output,
// rather than at package initialization.
//
// Two checks are provided:
//
//  1. Health Check: draws several samples and verifies they are non-zero,
//     non-constant and pairwise distinct.
//
//  2. Continuous Test: compares each output block to the previous one and
//     fails on a repeat.
//
// In FIPS mode, CST failures cause a panic. In standard mode, failures return
// errors and callers may substitute a fallback backend.
package crypto

import (
	"bytes"
	"fmt"
	"sync"
)

// CSTResult contains the results of a Conditional Self-Test
type CSTResult struct {
	Passed bool
	Error  error
}

// Sampler fills b with output from the randomness backend under test.
type Sampler func(b []byte) error

// HealthCheck performs a health check on an arbitrary randomness backend.
// It verifies that:
// 1. No sample is all zeros
// 2. No sample is a single repeated byte
// 3. No two samples are identical
func HealthCheck(sample Sampler, samples, sampleSize int) *CSTResult {
	if sample == nil || samples < 2 || sampleSize < 2 {
		return &CSTResult{Passed: false, Error: fmt.Errorf("invalid health check parameters")}
	}

	drawn := make([][]byte, samples)
	for i := range drawn {
		drawn[i] = make([]byte, sampleSize)
		if err := sample(drawn[i]); err != nil {
			return &CSTResult{Passed: false, Error: fmt.Errorf("RNG read %d failed: %w", i+1, err)}
		}
	}

	for i, s := range drawn {
		allZeros := true
		allSame := true
		for j := range s {
			if s[j] != 0 {
				allZeros = false
			}
			if s[j] != s[0] {
				allSame = false
			}
		}
		if allZeros {
			return &CSTResult{Passed: false, Error: fmt.Errorf("RNG produced all-zero sample %d", i+1)}
		}
		if allSame {
			return &CSTResult{Passed: false, Error: fmt.Errorf("RNG sample %d has no variation", i+1)}
		}
		for k := 0; k < i; k++ {
			if bytes.Equal(drawn[k], s) {
				return &CSTResult{Passed: false, Error: fmt.Errorf("RNG produced identical samples %d and %d", k+1, i+1)}
			}
		}
	}

	return &CSTResult{Passed: true}
}

// RNGHealthCheck performs a health check on the OS CSPRNG.
func RNGHealthCheck() *CSTResult {
	return HealthCheck(SecureRandom, 2, 32)
}

// ContinuousTest implements the continuous RNG test. It compares each output
// to the previous output and fails if they match. A ContinuousTest is safe for
// concurrent use.
type ContinuousTest struct {
	mu   sync.Mutex
	last []byte
}

// Check records output and reports whether it differs from the previous block.
// Blocks of different lengths are never considered repeats.
func (c *ContinuousTest) Check(output []byte) *CSTResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		c.last = bytes.Clone(output)
		return &CSTResult{Passed: true}
	}

	if len(output) == len(c.last) && bytes.Equal(output, c.last) {
		return &CSTResult{Passed: false, Error: fmt.Errorf("RNG produced repeated output")}
	}

	if len(c.last) != len(output) {
		c.last = make([]byte, len(output))
	}
	copy(c.last, output)

	return &CSTResult{Passed: true}
}

// Enforce converts a failed result into an error, or a panic in FIPS mode.
func (r *CSTResult) Enforce(name string) error {
	if r.Passed {
		return nil
	}
	if FIPSMode() {
		panic(fmt.Sprintf("FIPS CST failed: %s: %v", name, r.Error))
	}
	return fmt.Errorf("%s: %w", name, r.Error)
}
