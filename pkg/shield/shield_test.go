package shield_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
	"github.com/pzverkov/quantum-shield/pkg/shield"
)

func newShield(t *testing.T, opts ...shield.Option) (*shield.Shield, *metrics.Collector, *metrics.SimpleTracer) {
	t.Helper()
	collector := metrics.NewCollector(nil)
	tracer := metrics.NewSimpleTracer()
	obs := metrics.NewObserver(metrics.ObserverConfig{Collector: collector, Tracer: tracer, Logger: metrics.NullLogger()})
	s, err := shield.New(append([]shield.Option{shield.WithObserver(obs)}, opts...)...)
	if err != nil {
		t.Fatalf("shield.New failed: %v", err)
	}
	return s, collector, tracer
}

func gradient(t *testing.T, h, w int, mode pixel.Mode) *pixel.Buffer {
	t.Helper()
	b, err := pixel.New(h, w, mode)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Pix {
		b.Pix[i] = byte(i * 7)
	}
	return b
}

func TestEncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	for _, purity := range []keygen.Purity{keygen.PurityMaximum, keygen.PurityBalanced, keygen.PurityFast} {
		t.Run(purity.String(), func(t *testing.T) {
			s, collector, _ := newShield(t, shield.WithPurity(purity))
			img := gradient(t, 12, 10, pixel.ModeRGB)

			enc, err := s.Encrypt(ctx, img)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if enc.Shape != img.Shape || enc.Mode != img.Mode {
				t.Error("Encrypt changed image metadata")
			}
			if bytes.Equal(enc.Pix, img.Pix) {
				t.Error("ciphertext equals plaintext")
			}

			km, meta, err := s.LastKeys()
			if err != nil {
				t.Fatalf("LastKeys failed: %v", err)
			}
			if meta.Purity != purity || meta.Shape != img.Shape {
				t.Errorf("unexpected metadata %+v", meta)
			}

			dec, err := s.Decrypt(ctx, enc, km)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !pixel.Equal(dec, img) {
				t.Error("round trip mismatch")
			}

			snap := collector.Snapshot()
			if snap.EncryptOps != 1 || snap.DecryptOps != 1 {
				t.Errorf("encrypt/decrypt ops = %d/%d", snap.EncryptOps, snap.DecryptOps)
			}
		})
	}
}

func TestLastKeysBeforeEncrypt(t *testing.T) {
	s, _, _ := newShield(t)
	if _, _, err := s.LastKeys(); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if _, err := s.ExportKeys(context.Background(), keystore.NewWrapper(nil)); err == nil {
		t.Error("ExportKeys should fail before any encryption")
	}
}

func TestLastKeysIsCopy(t *testing.T) {
	s, _, _ := newShield(t)
	if _, err := s.Encrypt(context.Background(), gradient(t, 2, 2, pixel.ModeL)); err != nil {
		t.Fatal(err)
	}
	a, _, _ := s.LastKeys()
	a.Keystream[0] ^= 0xff
	b, _, _ := s.LastKeys()
	if a.Keystream[0] == b.Keystream[0] {
		t.Error("LastKeys should return an independent copy")
	}
}

func TestForget(t *testing.T) {
	s, _, _ := newShield(t)
	if _, err := s.Encrypt(context.Background(), gradient(t, 2, 2, pixel.ModeL)); err != nil {
		t.Fatal(err)
	}
	s.Forget()
	if _, _, err := s.LastKeys(); err == nil {
		t.Error("LastKeys should fail after Forget")
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	s, collector, _ := newShield(t)
	img := gradient(t, 6, 6, pixel.ModeRGBA)

	enc, err := s.Encrypt(ctx, img)
	if err != nil {
		t.Fatal(err)
	}

	w := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(1000))
	blob, err := s.ExportKeys(ctx, w)
	if err != nil {
		t.Fatalf("ExportKeys failed: %v", err)
	}
	data, err := keystore.Marshal(blob)
	if err != nil {
		t.Fatal(err)
	}

	// A second Shield with its own source can decrypt with the exported key.
	other, _, _ := newShield(t)
	loaded, err := keystore.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := other.DecryptWithBlob(ctx, enc, loaded, keystore.NewWrapper([]byte("Secret123")))
	if err != nil {
		t.Fatalf("DecryptWithBlob failed: %v", err)
	}
	if !pixel.Equal(dec, img) {
		t.Error("decrypt with imported keys mismatch")
	}
	if collector.Snapshot().EncryptOps != 1 {
		t.Error("expected one encrypt recorded")
	}
}

func TestDecryptWithBlobShapeMismatch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newShield(t)
	img := gradient(t, 4, 3, pixel.ModeL)
	enc, err := s.Encrypt(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	w := keystore.NewWrapper(nil)
	blob, err := s.ExportKeys(ctx, w)
	if err != nil {
		t.Fatal(err)
	}

	// Same byte count, different shape.
	reshaped := &pixel.Buffer{Pix: enc.Pix, Shape: pixel.Shape{Height: 3, Width: 4, Channels: 1}, Mode: pixel.ModeL}
	if _, err := s.DecryptWithBlob(ctx, reshaped, blob, w); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestDecryptWithTamperedBlob(t *testing.T) {
	ctx := context.Background()
	s, collector, _ := newShield(t)
	enc, err := s.Encrypt(ctx, gradient(t, 4, 4, pixel.ModeL))
	if err != nil {
		t.Fatal(err)
	}
	w := keystore.NewWrapper(nil, keystore.WithObserver(metrics.NewObserver(metrics.ObserverConfig{
		Collector: collector, Tracer: metrics.NoOpTracer{}, Logger: metrics.NullLogger(),
	})))
	blob, err := s.ExportKeys(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	blob.Permutation[0], blob.Permutation[1] = blob.Permutation[1], blob.Permutation[0]

	if _, err := s.DecryptWithBlob(ctx, enc, blob, w); !errors.Is(err, qerrors.ErrIntegrityViolation) {
		t.Errorf("expected ErrIntegrityViolation, got %v", err)
	}
	if collector.Snapshot().IntegrityFailures != 1 {
		t.Error("integrity failure not recorded")
	}
}

func TestSeededShieldsAgree(t *testing.T) {
	ctx := context.Background()
	img := gradient(t, 5, 5, pixel.ModeRGB)

	a, _, _ := newShield(t, shield.WithSeed([]byte("seed")))
	b, _, _ := newShield(t, shield.WithSeed([]byte("seed")))
	encA, err := a.Encrypt(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	encB, err := b.Encrypt(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	if !pixel.Equal(encA, encB) {
		t.Error("identically seeded shields should produce identical ciphertext")
	}
}

func TestInjectedSource(t *testing.T) {
	src, err := qrand.New(qrand.WithoutCircuit(), qrand.WithLogger(metrics.NullLogger()),
		qrand.WithCollector(metrics.NewCollector(nil)))
	if err != nil {
		t.Fatal(err)
	}
	s, _, _ := newShield(t, shield.WithSource(src))
	if s.SourceMode() != qrand.ModeFallback {
		t.Errorf("SourceMode = %s, want fallback", s.SourceMode())
	}
	if s.Purity() != keygen.DefaultPurity {
		t.Errorf("Purity = %s, want default", s.Purity())
	}
}

func TestNewRejectsUnknownPurity(t *testing.T) {
	if _, err := shield.New(shield.WithPurity(keygen.Purity(0x42))); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestEncryptRecordsSpans(t *testing.T) {
	s, _, tracer := newShield(t, shield.WithPurity(keygen.PurityFast))
	if _, err := s.Encrypt(context.Background(), gradient(t, 3, 3, pixel.ModeL)); err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, span := range tracer.Spans() {
		names[span.Name] = true
	}
	for _, want := range []string{metrics.SpanEncrypt, metrics.SpanKeystream, metrics.SpanPermutation} {
		if !names[want] {
			t.Errorf("missing span %q", want)
		}
	}
}

func TestEncryptInvalidBuffer(t *testing.T) {
	s, collector, _ := newShield(t)
	bad := &pixel.Buffer{Pix: []byte{1, 2}, Shape: pixel.Shape{Height: 1, Width: 1, Channels: 3}, Mode: pixel.ModeRGB}
	if _, err := s.Encrypt(context.Background(), bad); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if collector.Snapshot().EncryptOps != 0 {
		t.Error("invalid input should not count as an encryption")
	}
}
