package qrand

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

func quiet() []Option {
	return []Option{WithLogger(metrics.NullLogger()), WithCollector(metrics.NewCollector(nil))}
}

func TestNewPrefersCircuit(t *testing.T) {
	src, err := New(quiet()...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if src.Mode() != ModeCircuit {
		t.Errorf("Mode() = %v, want circuit", src.Mode())
	}
}

func TestBitsExactLength(t *testing.T) {
	sources := map[string]Source{}
	c, err := NewCircuit(constants.DefaultQubitsPerRound, nil)
	if err != nil {
		t.Fatal(err)
	}
	sources["circuit"] = c
	f, err := NewFallback(nil)
	if err != nil {
		t.Fatal(err)
	}
	sources["fallback"] = f

	for name, src := range sources {
		for _, n := range []int{0, 1, 7, 8, 15, 16, 17, 100, 1000} {
			bits, err := src.Bits(n)
			if err != nil {
				t.Fatalf("%s: Bits(%d) failed: %v", name, n, err)
			}
			if len(bits) != n {
				t.Errorf("%s: Bits(%d) returned %d bits", name, n, len(bits))
			}
			for i, b := range bits {
				if b > 1 {
					t.Fatalf("%s: bit %d = %d, want 0 or 1", name, i, b)
				}
			}
		}
	}
}

func TestBitsNegativeCount(t *testing.T) {
	c, _ := NewCircuit(8, nil)
	if _, err := c.Bits(-1); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	f, _ := NewFallback([]byte("seed"))
	if _, err := f.Bits(-8); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestSeededDeterminism(t *testing.T) {
	seed := []byte("deterministic seed")
	for _, mode := range []string{"circuit", "fallback"} {
		t.Run(mode, func(t *testing.T) {
			build := func() Source {
				opts := append(quiet(), WithSeed(seed))
				if mode == "fallback" {
					opts = append(opts, WithoutCircuit())
				}
				src, err := New(opts...)
				if err != nil {
					t.Fatal(err)
				}
				return src
			}
			a, b := build(), build()

			for _, n := range []int{40, 3, 256} {
				x, err := a.Bits(n)
				if err != nil {
					t.Fatal(err)
				}
				y, err := b.Bits(n)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(x, y) {
					t.Fatalf("Bits(%d) differs between identically seeded sources", n)
				}
			}
		})
	}
}

func TestSeededRepeatsAcrossCalls(t *testing.T) {
	for _, mode := range []string{"circuit", "fallback"} {
		t.Run(mode, func(t *testing.T) {
			opts := append(quiet(), WithSeed([]byte("seed")))
			if mode == "fallback" {
				opts = append(opts, WithoutCircuit())
			}
			src, err := New(opts...)
			if err != nil {
				t.Fatal(err)
			}
			first, err := src.Bits(64)
			if err != nil {
				t.Fatal(err)
			}
			second, err := src.Bits(64)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(first, second) {
				t.Error("repeated calls on one seeded source returned different bits")
			}
			shorter, _ := src.Bits(40)
			if !bytes.Equal(shorter, first[:40]) {
				t.Error("a shorter request should return a prefix of the longer one")
			}
		})
	}
}

func TestDeriveSeparatesLabels(t *testing.T) {
	for _, mode := range []string{"circuit", "fallback"} {
		t.Run(mode, func(t *testing.T) {
			opts := append(quiet(), WithSeed([]byte("seed")))
			if mode == "fallback" {
				opts = append(opts, WithoutCircuit())
			}
			src, err := New(opts...)
			if err != nil {
				t.Fatal(err)
			}
			base, _ := src.Bits(256)
			a, _ := Derive(src, "a", 0).Bits(256)
			a2, _ := Derive(src, "a", 0).Bits(256)
			b, _ := Derive(src, "b", 0).Bits(256)
			a1, _ := Derive(src, "a", 1).Bits(256)

			if !bytes.Equal(a, a2) {
				t.Error("same label and index should derive the same bits")
			}
			for name, other := range map[string][]uint8{"parent": base, "label": b, "index": a1} {
				if bytes.Equal(a, other) {
					t.Errorf("derived bits equal the %s stream", name)
				}
			}
			if Derive(src, "a", 0).Mode() != src.Mode() {
				t.Error("derived source changed backend")
			}
		})
	}
}

func TestDeriveUnseededReturnsSource(t *testing.T) {
	c, _ := NewCircuit(8, nil)
	if Derive(c, "x", 3) != Source(c) {
		t.Error("unseeded circuit should be returned unchanged")
	}
	f, _ := NewFallback(nil)
	if Derive(f, "x", 3) != Source(f) {
		t.Error("unseeded fallback should be returned unchanged")
	}
}

func TestDifferentSeedsDiffer(t *testing.T) {
	a, _ := NewCircuit(16, []byte("seed-a"))
	b, _ := NewCircuit(16, []byte("seed-b"))
	x, _ := a.Bits(256)
	y, _ := b.Bits(256)
	if bytes.Equal(x, y) {
		t.Error("different seeds produced identical bits")
	}
}

func TestRoundPartition(t *testing.T) {
	collector := metrics.NewCollector(nil)
	c, err := newCircuit(16, []byte("seed"), nil, collector)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Bits(40); err != nil {
		t.Fatal(err)
	}
	snap := collector.Snapshot()
	if snap.RoundsMeasured != 3 {
		t.Errorf("40 bits over 16 qubits should take 3 rounds, got %d", snap.RoundsMeasured)
	}
	if snap.BitsGenerated != 40 {
		t.Errorf("BitsGenerated = %d, want 40", snap.BitsGenerated)
	}
}

func TestBitBalance(t *testing.T) {
	c, _ := NewCircuit(16, []byte("balance"))
	bits, err := c.Bits(20000)
	if err != nil {
		t.Fatal(err)
	}
	ones := 0
	for _, b := range bits {
		ones += int(b)
	}
	if ones < 9400 || ones > 10600 {
		t.Errorf("ones = %d of 20000, expected near 10000", ones)
	}
}

func TestHadamardMeasurementProbability(t *testing.T) {
	reg := newRegister(1)
	reg.hadamard()
	p1 := real(reg[0].beta) * real(reg[0].beta)
	if p1 < 0.4999 || p1 > 0.5001 {
		t.Errorf("|beta|^2 after H = %v, want 0.5", p1)
	}

	// Applying H twice returns to |0>, which always measures 0.
	reg.hadamard()
	bits, err := reg.measure(fillReader(func(b []byte) error {
		for i := range b {
			b[i] = 0
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if bits[0] != 0 {
		t.Error("HH|0> should measure 0")
	}
}

func TestInvalidQubitsFallsBack(t *testing.T) {
	collector := metrics.NewCollector(nil)
	for _, n := range []int{0, -1, constants.MaxQubitsPerRound + 1} {
		src, err := New(WithMaxQubits(n), WithLogger(metrics.NullLogger()), WithCollector(collector))
		if err != nil {
			t.Fatalf("New(WithMaxQubits(%d)) failed: %v", n, err)
		}
		if src.Mode() != ModeFallback {
			t.Errorf("WithMaxQubits(%d): Mode() = %v, want fallback", n, src.Mode())
		}
	}
	if got := collector.Snapshot().FallbackActivations; got != 3 {
		t.Errorf("FallbackActivations = %d, want 3", got)
	}
}

func TestZeroEntropyFailsHealthCheck(t *testing.T) {
	// Constant zero entropy makes every measurement 1, which fails the
	// health check. The unseeded fallback reads the same entropy and fails too.
	zeros := func(b []byte) error {
		for i := range b {
			b[i] = 0
		}
		return nil
	}
	circuit, _ := newCircuit(16, nil, zeros, metrics.NewCollector(nil))
	if err := HealthCheck(circuit); !errors.Is(err, qerrors.ErrRandomnessUnavailable) {
		t.Fatalf("expected health check failure, got %v", err)
	}

	var buf bytes.Buffer
	src, err := New(withEntropy(zeros), WithSeed(nil), WithLogger(metrics.TestLogger(&buf)), WithCollector(metrics.NewCollector(nil)))
	if err == nil {
		t.Fatalf("unseeded fallback on broken entropy should fail, got mode %v", src.Mode())
	}
	if !errors.Is(err, qerrors.ErrRandomnessUnavailable) {
		t.Errorf("expected ErrRandomnessUnavailable, got %v", err)
	}
}

func TestUnavailableWhenEntropyFails(t *testing.T) {
	broken := func([]byte) error { return errors.New("device gone") }
	_, err := New(append(quiet(), withEntropy(broken))...)
	if !errors.Is(err, qerrors.ErrRandomnessUnavailable) {
		t.Errorf("expected ErrRandomnessUnavailable, got %v", err)
	}
	if qerrors.KindOf(err) != qerrors.KindRandomnessUnavailable {
		t.Errorf("KindOf = %v", qerrors.KindOf(err))
	}
}

func TestSeededSurvivesBrokenEntropy(t *testing.T) {
	broken := func([]byte) error { return errors.New("device gone") }
	src, err := New(append(quiet(), withEntropy(broken), WithSeed([]byte("s")))...)
	if err != nil {
		t.Fatalf("seeded source should not need OS entropy: %v", err)
	}
	if _, err := src.Bits(64); err != nil {
		t.Errorf("Bits failed: %v", err)
	}
}

func TestFallbackLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	_, err := New(WithMaxQubits(0), WithLogger(metrics.TestLogger(&buf)), WithCollector(metrics.NewCollector(nil)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("WARN")) {
		t.Errorf("expected a WARN entry, got %q", buf.String())
	}
}

func TestWithoutCircuitDoesNotCountFallback(t *testing.T) {
	collector := metrics.NewCollector(nil)
	src, err := New(WithoutCircuit(), WithLogger(metrics.NullLogger()), WithCollector(collector))
	if err != nil {
		t.Fatal(err)
	}
	if src.Mode() != ModeFallback {
		t.Errorf("Mode() = %v", src.Mode())
	}
	if collector.Snapshot().FallbackActivations != 0 {
		t.Error("an explicit fallback request is not a fallback activation")
	}
}

func TestPackUnpackBits(t *testing.T) {
	bits := []uint8{1, 0, 1, 0, 0, 0, 0, 1, 1, 1}
	packed := PackBits(bits)
	if len(packed) != 2 || packed[0] != 0xA1 || packed[1] != 0xC0 {
		t.Errorf("PackBits = %x, want a1c0", packed)
	}
	if got := UnpackBits(packed, len(bits)); !bytes.Equal(got, bits) {
		t.Errorf("UnpackBits = %v, want %v", got, bits)
	}
}

func TestConcurrentShotsSerialized(t *testing.T) {
	collector := metrics.NewCollector(nil)
	c, err := newCircuit(16, []byte("concurrent"), nil, collector)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := c.Bits(160)

	results := make([][]uint8, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bits, err := c.Bits(160)
			if err != nil {
				t.Error(err)
			}
			results[i] = bits
		}()
	}
	wg.Wait()

	for i, got := range results {
		if !bytes.Equal(got, want) {
			t.Errorf("caller %d saw interleaved rounds", i)
		}
	}
	if n := collector.Snapshot().RoundsMeasured; n != 90 {
		t.Errorf("rounds measured = %d, want 90", n)
	}
}

func TestModeString(t *testing.T) {
	if ModeCircuit.String() != "circuit" || ModeFallback.String() != "fallback" || Mode(0).String() != "unknown" {
		t.Error("unexpected mode names")
	}
}
