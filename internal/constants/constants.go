// Package constants defines security parameters and format constants for the
// Quantum-Shield image encryption system.
package constants

// Format version and identification
const (
	// BlobVersion is the current version of the key blob format
	BlobVersion = "2.0"

	// BlobMagic prefixes every serialized key blob
	BlobMagic = "QSKB"

	// ToolName is used for domain separation in derived streams
	ToolName = "Quantum-Shield-v2"
)

// Randomness source parameters
const (
	// DefaultQubitsPerRound is the default register width of one measurement round.
	// Wider registers are simulated per qubit, so this bounds memory, not correctness.
	DefaultQubitsPerRound = 16

	// MaxQubitsPerRound is the widest register the circuit backend will accept
	MaxQubitsPerRound = 24

	// MaxRejectionAttempts bounds consecutive redraws for a single Fisher-Yates index.
	// A healthy source exceeds it with probability below 2^-128.
	MaxRejectionAttempts = 128

	// HealthCheckSamples is the number of samples taken by the startup health check
	HealthCheckSamples = 4

	// HealthCheckSampleBits is the size in bits of each health check sample
	HealthCheckSampleBits = 128
)

// Domain separators for SHAKE-256 derived streams
const (
	// DomainSeparatorMeasurement seeds per-round measurement entropy
	DomainSeparatorMeasurement = "Quantum-Shield-Measurement"

	// DomainSeparatorFallback seeds the deterministic fallback generator
	DomainSeparatorFallback = "Quantum-Shield-Fallback"

	// DomainSeparatorShuffle seeds the balanced and fast permutation streams
	DomainSeparatorShuffle = "Quantum-Shield-Shuffle"

	// DomainSeparatorDerive keys labelled sub-sources of a seeded source
	DomainSeparatorDerive = "Quantum-Shield-Derive"
)

// Key derivation parameters (PBKDF2-HMAC-SHA256)
const (
	// KDFIterations is the default and minimum recommended PBKDF2 iteration count
	KDFIterations = 100000

	// KDFSaltSize is the size of the random PBKDF2 salt in bytes
	KDFSaltSize = 32

	// KDFKeySize is the size of the derived key in bytes
	KDFKeySize = 32

	// HMACKeySize is the size of the integrity key in bytes
	HMACKeySize = 32

	// HMACTagSize is the size of an HMAC-SHA256 tag in bytes
	HMACTagSize = 32

	// ContentHashSize is the size of the SHA3-256 content hash in bytes
	ContentHashSize = 32
)

// Input limits
const (
	// MaxPixels is the largest image accepted, in pixels (height * width)
	MaxPixels = 25_000_000

	// MaxBlobSize is the largest serialized key blob accepted, in bytes
	MaxBlobSize = 100 << 20

	// MinPasswordLength is the shortest master password accepted by the CLI
	MinPasswordLength = 8
)

// Purity selects the permutation generation strategy
type Purity uint8

const (
	// PurityMaximum draws every Fisher-Yates index from the randomness source
	PurityMaximum Purity = 0x01

	// PurityBalanced seeds a stream generator with 256 source bits
	PurityBalanced Purity = 0x02

	// PurityFast seeds a stream generator with 128 source bits
	PurityFast Purity = 0x03
)

// String returns the canonical label for the purity setting
func (p Purity) String() string {
	switch p {
	case PurityMaximum:
		return "maximum"
	case PurityBalanced:
		return "balanced"
	case PurityFast:
		return "fast"
	default:
		return "unknown"
	}
}

// IsSupported returns true if the purity setting is one of the known strategies
func (p Purity) IsSupported() bool {
	return p == PurityMaximum || p == PurityBalanced || p == PurityFast
}

// SeedBits returns the number of source bits used to seed the stream generator.
// PurityMaximum does not use a seed and returns 0.
func (p Purity) SeedBits() int {
	switch p {
	case PurityBalanced:
		return 256
	case PurityFast:
		return 128
	default:
		return 0
	}
}
