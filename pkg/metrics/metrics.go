package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from randomness sources, key generation,
// the cipher engine and key storage.
type Collector struct {
	// Randomness metrics
	bitsGenerated       atomic.Uint64
	roundsMeasured      atomic.Uint64
	fallbackActivations atomic.Uint64

	// Key generation metrics
	keystreamsGenerated  atomic.Uint64
	keystreamBytes       atomic.Uint64
	permutationsMaximum  atomic.Uint64
	permutationsBalanced atomic.Uint64
	permutationsFast     atomic.Uint64
	rejectionRedraws     atomic.Uint64
	permutationLatency   *Histogram

	// Cipher metrics
	encryptOps     atomic.Uint64
	decryptOps     atomic.Uint64
	bytesEncrypted atomic.Uint64
	bytesDecrypted atomic.Uint64
	encryptErrors  atomic.Uint64
	decryptErrors  atomic.Uint64
	encryptLatency *Histogram
	decryptLatency *Histogram

	// Storage metrics
	blobsWrapped       atomic.Uint64
	blobsUnwrapped     atomic.Uint64
	integrityFailures  atomic.Uint64
	credentialFailures atomic.Uint64
	kdfLatency         *Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		permutationLatency: NewHistogram(PermutationLatencyBuckets),
		encryptLatency:     NewHistogram(CipherLatencyBuckets),
		decryptLatency:     NewHistogram(CipherLatencyBuckets),
		kdfLatency:         NewHistogram(KDFLatencyBuckets),
		createdAt:          time.Now(),
		labels:             labels,
	}
}

// Default bucket configurations for histograms.
var (
	// PermutationLatencyBuckets for permutation generation (milliseconds).
	// Maximum purity on a large image draws tens of millions of bits.
	PermutationLatencyBuckets = []float64{1, 5, 25, 100, 500, 2500, 10000, 60000}

	// CipherLatencyBuckets for encrypt/decrypt of a whole buffer (milliseconds).
	CipherLatencyBuckets = []float64{0.1, 0.5, 1, 5, 25, 100, 500, 2500}

	// KDFLatencyBuckets for PBKDF2 derivations (milliseconds).
	KDFLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000}
)

// --- Randomness Metrics ---

// RecordBits adds to the generated bits counter.
func (c *Collector) RecordBits(n uint64) {
	c.bitsGenerated.Add(n)
}

// RecordRound increments the measured circuit rounds counter.
func (c *Collector) RecordRound() {
	c.roundsMeasured.Add(1)
}

// RecordFallback records that a source was substituted by the fallback backend.
func (c *Collector) RecordFallback() {
	c.fallbackActivations.Add(1)
}

// --- Key Generation Metrics ---

// RecordKeystream records a generated keystream of n bytes.
func (c *Collector) RecordKeystream(n int) {
	c.keystreamsGenerated.Add(1)
	c.keystreamBytes.Add(uint64(n))
}

// RecordPermutation records a generated permutation for the given purity label.
func (c *Collector) RecordPermutation(purity string, d time.Duration) {
	switch purity {
	case "maximum":
		c.permutationsMaximum.Add(1)
	case "balanced":
		c.permutationsBalanced.Add(1)
	case "fast":
		c.permutationsFast.Add(1)
	}
	c.permutationLatency.Observe(durationMillis(d))
}

// RecordRejections adds to the Fisher-Yates redraw counter.
func (c *Collector) RecordRejections(n uint64) {
	c.rejectionRedraws.Add(n)
}

// --- Cipher Metrics ---

// RecordEncrypt records a successful encryption of n bytes.
func (c *Collector) RecordEncrypt(n int, d time.Duration) {
	c.encryptOps.Add(1)
	c.bytesEncrypted.Add(uint64(n))
	c.encryptLatency.Observe(durationMillis(d))
}

// RecordDecrypt records a successful decryption of n bytes.
func (c *Collector) RecordDecrypt(n int, d time.Duration) {
	c.decryptOps.Add(1)
	c.bytesDecrypted.Add(uint64(n))
	c.decryptLatency.Observe(durationMillis(d))
}

// RecordEncryptError increments encryption error counter.
func (c *Collector) RecordEncryptError() {
	c.encryptErrors.Add(1)
}

// RecordDecryptError increments decryption error counter.
func (c *Collector) RecordDecryptError() {
	c.decryptErrors.Add(1)
}

// --- Storage Metrics ---

// RecordWrap records a key blob wrap.
func (c *Collector) RecordWrap() {
	c.blobsWrapped.Add(1)
}

// RecordUnwrap records a successful key blob unwrap.
func (c *Collector) RecordUnwrap() {
	c.blobsUnwrapped.Add(1)
}

// RecordIntegrityFailure increments the failed tag verification counter.
func (c *Collector) RecordIntegrityFailure() {
	c.integrityFailures.Add(1)
}

// RecordCredentialFailure increments the missing or wrong credential counter.
func (c *Collector) RecordCredentialFailure() {
	c.credentialFailures.Add(1)
}

// RecordKDFLatency records a password key derivation duration.
func (c *Collector) RecordKDFLatency(d time.Duration) {
	c.kdfLatency.Observe(durationMillis(d))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	// Randomness metrics
	BitsGenerated       uint64
	RoundsMeasured      uint64
	FallbackActivations uint64

	// Key generation metrics
	KeystreamsGenerated  uint64
	KeystreamBytes       uint64
	PermutationsMaximum  uint64
	PermutationsBalanced uint64
	PermutationsFast     uint64
	RejectionRedraws     uint64

	// Cipher metrics
	EncryptOps     uint64
	DecryptOps     uint64
	BytesEncrypted uint64
	BytesDecrypted uint64
	EncryptErrors  uint64
	DecryptErrors  uint64

	// Storage metrics
	BlobsWrapped       uint64
	BlobsUnwrapped     uint64
	IntegrityFailures  uint64
	CredentialFailures uint64

	// Histogram summaries
	PermutationLatency HistogramSummary
	EncryptLatency     HistogramSummary
	DecryptLatency     HistogramSummary
	KDFLatency         HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:            time.Now(),
		Uptime:               time.Since(c.createdAt),
		BitsGenerated:        c.bitsGenerated.Load(),
		RoundsMeasured:       c.roundsMeasured.Load(),
		FallbackActivations:  c.fallbackActivations.Load(),
		KeystreamsGenerated:  c.keystreamsGenerated.Load(),
		KeystreamBytes:       c.keystreamBytes.Load(),
		PermutationsMaximum:  c.permutationsMaximum.Load(),
		PermutationsBalanced: c.permutationsBalanced.Load(),
		PermutationsFast:     c.permutationsFast.Load(),
		RejectionRedraws:     c.rejectionRedraws.Load(),
		EncryptOps:           c.encryptOps.Load(),
		DecryptOps:           c.decryptOps.Load(),
		BytesEncrypted:       c.bytesEncrypted.Load(),
		BytesDecrypted:       c.bytesDecrypted.Load(),
		EncryptErrors:        c.encryptErrors.Load(),
		DecryptErrors:        c.decryptErrors.Load(),
		BlobsWrapped:         c.blobsWrapped.Load(),
		BlobsUnwrapped:       c.blobsUnwrapped.Load(),
		IntegrityFailures:    c.integrityFailures.Load(),
		CredentialFailures:   c.credentialFailures.Load(),
		PermutationLatency:   c.permutationLatency.Summary(),
		EncryptLatency:       c.encryptLatency.Summary(),
		DecryptLatency:       c.decryptLatency.Summary(),
		KDFLatency:           c.kdfLatency.Summary(),
		Labels:               c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.bitsGenerated, &c.roundsMeasured, &c.fallbackActivations,
		&c.keystreamsGenerated, &c.keystreamBytes,
		&c.permutationsMaximum, &c.permutationsBalanced, &c.permutationsFast, &c.rejectionRedraws,
		&c.encryptOps, &c.decryptOps, &c.bytesEncrypted, &c.bytesDecrypted,
		&c.encryptErrors, &c.decryptErrors,
		&c.blobsWrapped, &c.blobsUnwrapped, &c.integrityFailures, &c.credentialFailures,
	} {
		v.Store(0)
	}
	c.permutationLatency.Reset()
	c.encryptLatency.Reset()
	c.decryptLatency.Reset()
	c.kdfLatency.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
	globalCollectorMu   sync.RWMutex
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollectorMu.Lock()
		if globalCollector == nil {
			globalCollector = NewCollector(Labels{"instance": "default"})
		}
		globalCollectorMu.Unlock()
	})
	globalCollectorMu.RLock()
	defer globalCollectorMu.RUnlock()
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	globalCollector = c
}
