// Package shield ties randomness, key generation, the cipher and key
// storage together behind one value.
//
// A Shield owns its randomness source, so two Shields never share circuit
// state. It remembers the key material of its most recent encryption so the
// caller can export it after the fact.
//
// Basic usage:
//
//	s, err := shield.New(shield.WithPurity(keygen.PurityBalanced))
//	enc, err := s.Encrypt(ctx, img)
//	blob, err := s.ExportKeys(ctx, keystore.NewWrapper(password))
//
//	km, _, err := s.ImportKeys(ctx, blob, keystore.NewWrapper(password))
//	img, err = s.Decrypt(ctx, enc, km)
package shield

import (
	"context"
	"sync"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
	"github.com/pzverkov/quantum-shield/pkg/scramble"
)

// Config holds Shield options.
type Config struct {
	// Purity selects the permutation strategy. Zero means keygen.DefaultPurity.
	Purity keygen.Purity

	// Source overrides the randomness source. When nil one is built from
	// Seed and MaxQubits.
	Source qrand.Source

	// Seed makes the built source deterministic.
	Seed []byte

	// MaxQubits sets the circuit register width. Zero means the default.
	MaxQubits int

	// Observer receives metrics, spans and logs. Nil uses the globals.
	Observer *metrics.Observer
}

// Option configures a Shield.
type Option func(*Config)

// WithPurity sets the permutation strategy.
func WithPurity(p keygen.Purity) Option {
	return func(c *Config) { c.Purity = p }
}

// WithSource injects a randomness source.
func WithSource(src qrand.Source) Option {
	return func(c *Config) { c.Source = src }
}

// WithSeed makes key generation reproducible.
func WithSeed(seed []byte) Option {
	return func(c *Config) { c.Seed = seed }
}

// WithMaxQubits sets the circuit register width.
func WithMaxQubits(n int) Option {
	return func(c *Config) { c.MaxQubits = n }
}

// WithObserver routes observability through o.
func WithObserver(o *metrics.Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// Shield encrypts and decrypts pixel buffers. It is safe for concurrent
// use; the randomness source serializes generation.
type Shield struct {
	purity   keygen.Purity
	gen      *keygen.Generator
	observer *metrics.Observer

	mu       sync.Mutex
	last     *keygen.KeyMaterial
	lastMeta keystore.Metadata
}

// New builds a Shield.
func New(opts ...Option) (*Shield, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Purity == 0 {
		cfg.Purity = keygen.DefaultPurity
	}
	if !cfg.Purity.IsSupported() {
		return nil, qerrors.Invalid("shield.New", "unknown purity 0x%02x", uint8(cfg.Purity))
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NewObserver(metrics.ObserverConfig{})
	}

	src := cfg.Source
	if src == nil {
		qopts := []qrand.Option{
			qrand.WithLogger(cfg.Observer.Logger()),
			qrand.WithCollector(cfg.Observer.Collector()),
		}
		if cfg.Seed != nil {
			qopts = append(qopts, qrand.WithSeed(cfg.Seed))
		}
		if cfg.MaxQubits != 0 {
			qopts = append(qopts, qrand.WithMaxQubits(cfg.MaxQubits))
		}
		var err error
		if src, err = qrand.New(qopts...); err != nil {
			return nil, err
		}
	}

	gen, err := keygen.NewGenerator(src, keygen.WithObserver(cfg.Observer))
	if err != nil {
		return nil, err
	}
	return &Shield{purity: cfg.Purity, gen: gen, observer: cfg.Observer}, nil
}

// Purity returns the configured permutation strategy.
func (s *Shield) Purity() keygen.Purity {
	return s.purity
}

// SourceMode reports which randomness backend is active.
func (s *Shield) SourceMode() qrand.Mode {
	return s.gen.Source().Mode()
}

// Encrypt generates fresh key material for b and returns the encrypted
// buffer. The material is retained for LastKeys and ExportKeys.
func (s *Shield) Encrypt(ctx context.Context, b *pixel.Buffer) (_ *pixel.Buffer, err error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	_, done := s.observer.OnEncrypt(ctx, metrics.SpanAttributes{
		Purity:      s.purity.String(),
		Pixels:      b.Shape.Pixels(),
		Bytes:       b.Len(),
		ChannelMode: string(b.Mode),
		SourceMode:  s.SourceMode().String(),
	})
	defer func() { done(err) }()

	km, err := s.gen.Generate(b.Len(), s.purity)
	if err != nil {
		return nil, err
	}
	out, err := scramble.EncryptBuffer(b, km)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.last != nil {
		crypto.Zeroize(s.last.Keystream)
	}
	s.last = km
	s.lastMeta = keystore.Metadata{Shape: b.Shape, Mode: b.Mode, Purity: s.purity}
	s.mu.Unlock()
	return out, nil
}

// Decrypt reverses Encrypt with the given key material.
func (s *Shield) Decrypt(ctx context.Context, b *pixel.Buffer, km *keygen.KeyMaterial) (_ *pixel.Buffer, err error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	_, done := s.observer.OnDecrypt(ctx, metrics.SpanAttributes{
		Pixels:      b.Shape.Pixels(),
		Bytes:       b.Len(),
		ChannelMode: string(b.Mode),
	})
	defer func() { done(err) }()

	return scramble.DecryptBuffer(b, km)
}

// DecryptWithBlob opens blob with w, checks it matches b's shape and mode,
// and decrypts b.
func (s *Shield) DecryptWithBlob(ctx context.Context, b *pixel.Buffer, blob *keystore.Blob, w *keystore.Wrapper) (*pixel.Buffer, error) {
	km, meta, err := s.ImportKeys(ctx, blob, w)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(km.Keystream)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if meta.Shape != b.Shape || meta.Mode != b.Mode {
		return nil, qerrors.Invalid("shield.DecryptWithBlob", "key is for a %s %s image, got %s %s",
			meta.Shape, meta.Mode, b.Shape, b.Mode)
	}
	return s.Decrypt(ctx, b, km)
}

// LastKeys returns a copy of the key material from the most recent Encrypt.
func (s *Shield) LastKeys() (*keygen.KeyMaterial, keystore.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, keystore.Metadata{}, qerrors.Invalid("shield.LastKeys", "no encryption has been performed")
	}
	km := &keygen.KeyMaterial{
		Keystream:   append(keygen.Keystream(nil), s.last.Keystream...),
		Permutation: append(keygen.Permutation(nil), s.last.Permutation...),
		Purity:      s.last.Purity,
	}
	return km, s.lastMeta, nil
}

// ExportKeys wraps the most recent key material with w.
func (s *Shield) ExportKeys(ctx context.Context, w *keystore.Wrapper) (*keystore.Blob, error) {
	km, meta, err := s.LastKeys()
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(km.Keystream)
	return w.Wrap(ctx, km, meta)
}

// ImportKeys verifies and opens blob with w.
func (s *Shield) ImportKeys(ctx context.Context, blob *keystore.Blob, w *keystore.Wrapper) (*keygen.KeyMaterial, keystore.Metadata, error) {
	return w.Unwrap(ctx, blob)
}

// Forget wipes the retained key material.
func (s *Shield) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		crypto.Zeroize(s.last.Keystream)
		s.last = nil
	}
}
