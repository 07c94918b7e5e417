package keygen_test

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
)

var allPurities = []keygen.Purity{keygen.PurityMaximum, keygen.PurityBalanced, keygen.PurityFast}

func newObserver() *metrics.Observer {
	return metrics.NewObserver(metrics.ObserverConfig{
		Collector: metrics.NewCollector(nil),
		Tracer:    metrics.NoOpTracer{},
		Logger:    metrics.NullLogger(),
	})
}

func seededGenerator(t *testing.T, seed string) *keygen.Generator {
	t.Helper()
	src, err := qrand.New(
		qrand.WithSeed([]byte(seed)),
		qrand.WithLogger(metrics.NullLogger()),
		qrand.WithCollector(metrics.NewCollector(nil)),
	)
	if err != nil {
		t.Fatalf("qrand.New failed: %v", err)
	}
	g, err := keygen.NewGenerator(src, keygen.WithObserver(newObserver()))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return g
}

// fixedSource returns the same bit pattern on every call.
type fixedSource struct{ pattern []uint8 }

func (f fixedSource) Bits(n int) ([]uint8, error) {
	out := make([]uint8, n)
	for i := range out {
		out[i] = f.pattern[i%len(f.pattern)]
	}
	return out, nil
}

func (fixedSource) Mode() qrand.Mode { return qrand.ModeFallback }

type failingSource struct{}

func (failingSource) Bits(int) ([]uint8, error) { return nil, qerrors.ErrRandomnessUnavailable }
func (failingSource) Mode() qrand.Mode         { return qrand.ModeFallback }

func TestNewGeneratorNilSource(t *testing.T) {
	if _, err := keygen.NewGenerator(nil); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestKeystreamLength(t *testing.T) {
	g := seededGenerator(t, "length")
	for _, n := range []int{0, 1, 3, 64, 1000, 70000} {
		ks, err := g.Keystream(n)
		if err != nil {
			t.Fatalf("Keystream(%d) failed: %v", n, err)
		}
		if len(ks) != n {
			t.Errorf("Keystream(%d) returned %d bytes", n, len(ks))
		}
	}
}

func TestKeystreamNegative(t *testing.T) {
	g := seededGenerator(t, "neg")
	if _, err := g.Keystream(-1); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestKeystreamPacksMSBFirst(t *testing.T) {
	// 1,0,1,0,0,0,0,1 repeated packs to 0xA1 per byte.
	g, err := keygen.NewGenerator(fixedSource{pattern: []uint8{1, 0, 1, 0, 0, 0, 0, 1}}, keygen.WithObserver(newObserver()))
	if err != nil {
		t.Fatal(err)
	}
	ks, err := g.Keystream(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ks, []byte{0xA1, 0xA1, 0xA1, 0xA1}) {
		t.Errorf("Keystream = %x, want a1a1a1a1", []byte(ks))
	}
}

func TestPermutationValidity(t *testing.T) {
	g := seededGenerator(t, "validity")
	for _, purity := range allPurities {
		for _, size := range []int{0, 1, 2, 3, 17, 256, 1001} {
			p, err := g.Permutation(size, purity)
			if err != nil {
				t.Fatalf("Permutation(%d, %s) failed: %v", size, purity, err)
			}
			if len(p) != size {
				t.Fatalf("Permutation(%d, %s) has length %d", size, purity, len(p))
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Permutation(%d, %s) is not a bijection: %v", size, purity, err)
			}
		}
	}
}

func TestPermutationInvalidArguments(t *testing.T) {
	g := seededGenerator(t, "args")
	if _, err := g.Permutation(-1, keygen.PurityFast); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("negative size: expected ErrInvalidParameter, got %v", err)
	}
	if _, err := g.Permutation(10, keygen.Purity(0x7f)); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("unknown purity: expected ErrInvalidParameter, got %v", err)
	}
	if _, err := g.Generate(10, keygen.Purity(0)); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("Generate with unknown purity: expected ErrInvalidParameter, got %v", err)
	}
}

func TestDeterminismUnderSeed(t *testing.T) {
	for _, purity := range allPurities {
		t.Run(purity.String(), func(t *testing.T) {
			a, err := seededGenerator(t, "same seed").Generate(300, purity)
			if err != nil {
				t.Fatal(err)
			}
			b, err := seededGenerator(t, "same seed").Generate(300, purity)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a.Keystream, b.Keystream) {
				t.Error("keystreams differ under the same seed")
			}
			if !slices.Equal(a.Permutation, b.Permutation) {
				t.Error("permutations differ under the same seed")
			}
		})
	}
}

func TestSeededGeneratorRepeats(t *testing.T) {
	g := seededGenerator(t, "repeat")
	for _, purity := range allPurities {
		a, err := g.Generate(200, purity)
		if err != nil {
			t.Fatal(err)
		}
		b, err := g.Generate(200, purity)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Keystream, b.Keystream) || !slices.Equal(a.Permutation, b.Permutation) {
			t.Errorf("%s: repeated Generate on one seeded generator differs", purity)
		}
	}
}

func TestSeededKeystreamChunksDiffer(t *testing.T) {
	const chunk = 1 << 16
	ks, err := seededGenerator(t, "chunks").Keystream(2 * chunk)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ks[:chunk], ks[chunk:]) {
		t.Error("keystream repeats across source draws")
	}
}

func TestSeedBitsConsumed(t *testing.T) {
	var counts []int
	src := countingSource{counts: &counts}
	g, _ := keygen.NewGenerator(src, keygen.WithObserver(newObserver()))

	if _, err := g.Permutation(50, keygen.PurityBalanced); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Permutation(50, keygen.PurityFast); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(counts, []int{256, 128}) {
		t.Errorf("seed draws = %v, want [256 128]", counts)
	}
}

type countingSource struct{ counts *[]int }

func (c countingSource) Bits(n int) ([]uint8, error) {
	*c.counts = append(*c.counts, n)
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(i % 2)
	}
	return out, nil
}

func (countingSource) Mode() qrand.Mode { return qrand.ModeCircuit }

func TestSourceFailurePropagates(t *testing.T) {
	g, _ := keygen.NewGenerator(failingSource{}, keygen.WithObserver(newObserver()))
	if _, err := g.Keystream(8); !errors.Is(err, qerrors.ErrRandomnessUnavailable) {
		t.Errorf("Keystream: expected ErrRandomnessUnavailable, got %v", err)
	}
	for _, purity := range allPurities {
		if _, err := g.Permutation(8, purity); !errors.Is(err, qerrors.ErrRandomnessUnavailable) {
			t.Errorf("Permutation(%s): expected ErrRandomnessUnavailable, got %v", purity, err)
		}
	}
}

func TestGenerateMaterial(t *testing.T) {
	g := seededGenerator(t, "material")
	km, err := g.Generate(64, keygen.PurityMaximum)
	if err != nil {
		t.Fatal(err)
	}
	if km.Len() != 64 || len(km.Permutation) != 64 {
		t.Errorf("material sizes = %d/%d", km.Len(), len(km.Permutation))
	}
	if km.Purity != keygen.PurityMaximum {
		t.Errorf("purity = %s", km.Purity)
	}
	if err := km.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestKeyMaterialValidate(t *testing.T) {
	tests := []struct {
		name string
		km   *keygen.KeyMaterial
		want error
	}{
		{"nil", nil, qerrors.ErrInvalidParameter},
		{"length mismatch", &keygen.KeyMaterial{Keystream: make(keygen.Keystream, 3), Permutation: keygen.Identity(2), Purity: keygen.PurityFast}, qerrors.ErrKeyLengthMismatch},
		{"bad purity", &keygen.KeyMaterial{Keystream: make(keygen.Keystream, 2), Permutation: keygen.Identity(2), Purity: 9}, qerrors.ErrInvalidParameter},
		{"duplicate", &keygen.KeyMaterial{Keystream: make(keygen.Keystream, 2), Permutation: keygen.Permutation{1, 1}, Purity: keygen.PurityFast}, qerrors.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.km.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParsePurity(t *testing.T) {
	for _, purity := range allPurities {
		got, err := keygen.ParsePurity(purity.String())
		if err != nil || got != purity {
			t.Errorf("ParsePurity(%q) = %v, %v", purity.String(), got, err)
		}
	}
	if got, _ := keygen.ParsePurity(" FAST "); got != keygen.PurityFast {
		t.Error("ParsePurity should trim and ignore case")
	}
	if _, err := keygen.ParsePurity("ultra"); !errors.Is(err, qerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestPermutationInverse(t *testing.T) {
	p := keygen.Permutation{2, 0, 3, 1}
	inv := p.Inverse()
	if want := (keygen.Permutation{1, 3, 0, 2}); !slices.Equal(inv, want) {
		t.Errorf("Inverse = %v, want %v", inv, want)
	}
	for k := range p {
		if inv[p[k]] != uint32(k) {
			t.Fatalf("inv[p[%d]] != %d", k, k)
		}
	}
}

func TestPermutationValidateRejects(t *testing.T) {
	for _, p := range []keygen.Permutation{{0, 0}, {0, 2}, {5}} {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%v) should fail", p)
		}
	}
}

func TestPermutationAppendLE(t *testing.T) {
	got := keygen.Permutation{1, 0x01020304}.AppendLE(nil)
	want := []byte{1, 0, 0, 0, 4, 3, 2, 1}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendLE = %x, want %x", got, want)
	}
}

func TestObserverRecordsKeygen(t *testing.T) {
	collector := metrics.NewCollector(nil)
	obs := metrics.NewObserver(metrics.ObserverConfig{Collector: collector, Tracer: metrics.NoOpTracer{}, Logger: metrics.NullLogger()})
	src, _ := qrand.New(qrand.WithSeed([]byte("obs")), qrand.WithLogger(metrics.NullLogger()), qrand.WithCollector(metrics.NewCollector(nil)))
	g, _ := keygen.NewGenerator(src, keygen.WithObserver(obs))

	if _, err := g.Generate(32, keygen.PurityMaximum); err != nil {
		t.Fatal(err)
	}
	snap := collector.Snapshot()
	if snap.KeystreamBytes != 32 || snap.PermutationsMaximum != 1 {
		t.Errorf("unexpected snapshot: keystream bytes %d, maximum permutations %d", snap.KeystreamBytes, snap.PermutationsMaximum)
	}
}
