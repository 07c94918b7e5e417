// Package quantumshield encrypts images with key material drawn from a
// simulated quantum circuit.
//
// Encryption is two steps over the raw channel bytes of an image: every
// byte is XORed with a keystream byte, then byte positions are scrambled by
// a random permutation. Both come from a randomness source that measures a
// register of qubits in equal superposition; a seeded SHAKE-256 fallback
// takes over when the circuit backend cannot be used.
//
// # Quick Start
//
// For whole images:
//
//	import "github.com/pzverkov/quantum-shield/pkg/shield"
//
//	s, _ := shield.New(shield.WithPurity(keygen.PurityBalanced))
//	enc, _ := s.Encrypt(ctx, img)
//	blob, _ := s.ExportKeys(ctx, keystore.NewWrapper(password))
//
//	dec, _ := s.DecryptWithBlob(ctx, enc, blob, keystore.NewWrapper(password))
//
// For raw buffers and explicit key material:
//
//	import "github.com/pzverkov/quantum-shield/pkg/scramble"
//
//	km, _ := gen.Generate(len(buf), keygen.PurityFast)
//	ct, _ := scramble.Encrypt(buf, km.Keystream, km.Permutation)
//	pt, _ := scramble.Decrypt(ct, km.Keystream, km.Permutation)
//
// # Package Structure
//
//   - pkg/qrand: Circuit and fallback randomness sources
//   - pkg/keygen: Keystreams and permutations at three purity settings
//   - pkg/scramble: The XOR-then-permute cipher
//   - pkg/keystore: Key blobs, password sealing, integrity tags, file and Badger stores
//   - pkg/shield: Facade tying the above together
//   - pkg/imageio: Image decoding and lossless PNG output
//   - pkg/pixel: Pixel buffers, shapes and channel modes
//   - pkg/crypto: PBKDF2, HMAC, key stretching, self-tests
//   - pkg/metrics: Logging, metrics, tracing and health checks
//   - internal/constants: Limits and format constants
//   - internal/errors: Error kinds
//
// # Purity
//
//   - maximum: every Fisher-Yates index is drawn from fresh circuit bits
//   - balanced: a 256-bit circuit seed drives the shuffle
//   - fast: a 128-bit circuit seed drives the shuffle
//
// # Security Notes
//
// The cipher is not authenticated and a given key must only ever encrypt
// one image. Key blobs carry the HMAC key beside the tag, so the tag
// detects corruption but not deliberate forgery by someone able to rewrite
// the blob. Encrypted images must be stored losslessly.
//
// # Testing
//
//	go test ./...                                    # All tests
//	go test -fuzz=FuzzUnmarshalBlob ./test/fuzz/     # Fuzz tests
//	go test -run TestKAT ./pkg/crypto                # Known Answer Tests
//	go test -bench=. ./test/benchmark                # Benchmarks
package quantumshield
