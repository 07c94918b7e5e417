// Package crypto implements Power-On Self-Tests (POST).
//
// POST is production code, not test code. It runs when the crypto package is
// loaded and verifies that every primitive used for key protection produces
// expected outputs using Known Answer Tests (KAT).
//
// The tests verify:
//   - PBKDF2-HMAC-SHA256 (password key derivation)
//   - HMAC-SHA256 (blob integrity tag)
//   - SHA-256 chaining (keystream protection stretch)
//   - SHAKE-256 stream (seeded randomness and shuffle streams)
//
// In FIPS mode, POST failures cause a panic. In standard mode, failures are
// recorded and surfaced by POSTPassed and the doctor command.
package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// POST KAT (Known Answer Test) values
var (
	// PBKDF2 KAT
	// Password: "POST-KAT-PASSWORD", Salt: 0x00..0x1f, Iterations: 1000
	postKATPBKDF2Password    = []byte("POST-KAT-PASSWORD")
	postKATPBKDF2Salt, _     = hex.DecodeString("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	postKATPBKDF2Expected, _ = hex.DecodeString("0405f27f58cbed84e9b924a070e20b3626473b575dca99579a3017b1c247108e")

	// Shared key for the HMAC, stretch and stream KATs
	postKATKey, _ = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	// HMAC-SHA256 KAT over "POST-KAT-TEST"
	postKATHMACMessage     = []byte("POST-KAT-TEST")
	postKATHMACExpected, _ = hex.DecodeString("0863e561084d9e82e18b748158f1843768daa02c415e9e6a48b35674e6466721")

	// SHA-256 chaining stretch KAT to 80 bytes
	postKATStretchExpected, _ = hex.DecodeString(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" +
			"4884fdaafea47c29fea7159d0daddd9c085d6200e1359e85bb81736af6b7c837" +
			"4a9fe4529dde16295a10aac12c9258c5")

	// SHAKE-256 stream KAT, domain "POST-KAT-TEST", one input
	postKATStreamExpected, _ = hex.DecodeString("6f35df98c4795228b3634098b310395e3d28482ef6185f909fb76a06cb063357")
)

// POSTDomain is the domain separator used in the POST stream test
const POSTDomain = "POST-KAT-TEST"

// POSTResult contains the results of Power-On Self-Tests
type POSTResult struct {
	Passed        bool
	PBKDF2Passed  bool
	HMACPassed    bool
	StretchPassed bool
	StreamPassed  bool
	Errors        []string
}

// postResult stores the cached POST result
var (
	postResult     *POSTResult
	postResultOnce sync.Once
	postRan        bool
)

// RunPOST executes the Power-On Self-Tests and returns the results.
// This function is safe to call multiple times; tests only run once.
func RunPOST() *POSTResult {
	postResultOnce.Do(func() {
		postResult = &POSTResult{Passed: true}

		record := func(name string, err error) bool {
			if err != nil {
				postResult.Passed = false
				postResult.Errors = append(postResult.Errors, fmt.Sprintf("%s KAT failed: %v", name, err))
				return false
			}
			return true
		}

		postResult.PBKDF2Passed = record("PBKDF2", runPBKDF2KAT())
		postResult.HMACPassed = record("HMAC", runHMACKAT())
		postResult.StretchPassed = record("Stretch", runStretchKAT())
		postResult.StreamPassed = record("SHAKE-256", runStreamKAT())

		postRan = true

		if FIPSMode() && !postResult.Passed {
			panic(fmt.Sprintf("FIPS POST failed: %v", postResult.Errors))
		}
	})

	return postResult
}

// POSTRan returns true if POST has been executed
func POSTRan() bool {
	return postRan
}

// POSTPassed returns true if POST has run and all tests passed
func POSTPassed() bool {
	if postResult == nil {
		return false
	}
	return postResult.Passed
}

// POSTError returns nil when POST passed, or an error listing the failed KATs.
// Its signature fits metrics.CheckFunc.
func POSTError() error {
	r := RunPOST()
	if r.Passed {
		return nil
	}
	return fmt.Errorf("power-on self-test failed: %s", strings.Join(r.Errors, "; "))
}

func runPBKDF2KAT() error {
	output, err := PBKDF2(postKATPBKDF2Password, postKATPBKDF2Salt, 1000, 32)
	if err != nil {
		return fmt.Errorf("PBKDF2 failed: %w", err)
	}
	if !bytes.Equal(output, postKATPBKDF2Expected) {
		return fmt.Errorf("PBKDF2 output mismatch: got %x, want %x", output, postKATPBKDF2Expected)
	}
	return nil
}

func runHMACKAT() error {
	tag, err := ComputeTag(postKATKey, postKATHMACMessage)
	if err != nil {
		return fmt.Errorf("ComputeTag failed: %w", err)
	}
	if !bytes.Equal(tag, postKATHMACExpected) {
		return fmt.Errorf("HMAC output mismatch: got %x, want %x", tag, postKATHMACExpected)
	}
	if err := VerifyTag(postKATKey, postKATHMACExpected, postKATHMACMessage); err != nil {
		return fmt.Errorf("VerifyTag rejected a valid tag: %w", err)
	}
	return nil
}

func runStretchKAT() error {
	output, err := StretchKey(postKATKey, len(postKATStretchExpected))
	if err != nil {
		return fmt.Errorf("StretchKey failed: %w", err)
	}
	if !bytes.Equal(output, postKATStretchExpected) {
		return fmt.Errorf("stretch output mismatch: got %x, want %x", output, postKATStretchExpected)
	}
	return nil
}

func runStreamKAT() error {
	output, err := DeriveStream(POSTDomain, len(postKATStreamExpected), postKATKey)
	if err != nil {
		return fmt.Errorf("DeriveStream failed: %w", err)
	}
	if !bytes.Equal(output, postKATStreamExpected) {
		return fmt.Errorf("stream output mismatch: got %x, want %x", output, postKATStreamExpected)
	}
	return nil
}

// init runs POST automatically when the package is loaded
func init() {
	RunPOST()
}
