package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
	"github.com/pzverkov/quantum-shield/pkg/shield"
)

var (
	benchSize       string
	benchMode       string
	benchRounds     int
	benchPrometheus bool
)

func init() {
	benchCmd.Flags().StringVar(&benchSize, "size", "256x256", "image size as WIDTHxHEIGHT")
	benchCmd.Flags().StringVar(&benchMode, "mode", string(pixel.ModeRGB), "pixel mode: L, LA, RGB, RGBA")
	benchCmd.Flags().IntVar(&benchRounds, "rounds", 3, "encrypt/decrypt rounds per purity")
	benchCmd.Flags().BoolVar(&benchPrometheus, "prometheus", false, "print collected metrics in Prometheus text format")
	benchCmd.Flags().String("purity", "", "benchmark one purity only (default: all)")
	benchCmd.Flags().Int("qubits", 0, "qubits per circuit round")
}

func resetBenchCommandState() {
	benchSize = "256x256"
	benchMode = string(pixel.ModeRGB)
	benchRounds = 3
	benchPrometheus = false
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure key generation and cipher throughput",
	Long: `Encrypts and decrypts a synthetic image with each purity setting and reports
timings. Maximum purity draws every permutation index from the circuit and is
expected to be much slower than balanced or fast.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

// benchResult holds timings for one purity.
type benchResult struct {
	purity  keygen.Purity
	encrypt []time.Duration
	decrypt []time.Duration
}

func runBench(cmd *cobra.Command, _ []string) error {
	w, h, err := parseDims(benchSize)
	if err != nil {
		return err
	}
	mode, err := pixel.ParseMode(benchMode)
	if err != nil {
		return err
	}
	if benchRounds < 1 {
		return fmt.Errorf("rounds must be positive, got %d", benchRounds)
	}

	purities := []keygen.Purity{keygen.PurityFast, keygen.PurityBalanced, keygen.PurityMaximum}
	if cmd.Flags().Changed("purity") {
		p, err := keygen.ParsePurity(cfg.Purity)
		if err != nil {
			return err
		}
		purities = []keygen.Purity{p}
	}

	img, err := gradient(h, w, mode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════╗")
	_, _ = fmt.Fprintln(out, "║      Quantum-Shield Benchmark                             ║")
	_, _ = fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Image: %s %s (%s), %d rounds\n\n", img.Shape, img.Mode, humanize.Bytes(uint64(img.Len())), benchRounds)

	obs := newObserver()
	for _, purity := range purities {
		res, err := benchPurity(cmd.Context(), img, purity, obs)
		if err != nil {
			return err
		}
		printBenchResult(out, res, img.Len())
	}

	if benchPrometheus {
		metrics.NewPrometheusExporter(collector, "quantum_shield").WriteMetrics(out)
	}
	return nil
}

func benchPurity(ctx context.Context, img *pixel.Buffer, purity keygen.Purity, obs *metrics.Observer) (*benchResult, error) {
	s, err := shield.New(
		shield.WithPurity(purity),
		shield.WithMaxQubits(cfg.MaxQubits),
		shield.WithObserver(obs),
	)
	if err != nil {
		return nil, err
	}
	defer s.Forget()

	res := &benchResult{purity: purity}
	for i := 0; i < benchRounds; i++ {
		start := time.Now()
		enc, err := s.Encrypt(ctx, img)
		if err != nil {
			return nil, err
		}
		res.encrypt = append(res.encrypt, time.Since(start))

		km, _, err := s.LastKeys()
		if err != nil {
			return nil, err
		}
		start = time.Now()
		dec, err := s.Decrypt(ctx, enc, km)
		if err != nil {
			return nil, err
		}
		res.decrypt = append(res.decrypt, time.Since(start))

		if !pixel.Equal(dec, img) {
			return nil, fmt.Errorf("%s purity: round %d did not round-trip", purity, i+1)
		}
	}
	return res, nil
}

func printBenchResult(w io.Writer, res *benchResult, size int) {
	enc := average(res.encrypt)
	dec := average(res.decrypt)

	_, _ = fmt.Fprintf(w, "Purity: %s\n", res.purity)
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 60))
	_, _ = fmt.Fprintf(w, "  Encrypt (with key generation): %v avg, %s/s\n", enc, rate(size, enc))
	_, _ = fmt.Fprintf(w, "  Decrypt:                       %v avg, %s/s\n", dec, rate(size, dec))
	if enc < time.Second {
		_, _ = fmt.Fprintf(w, "%s Performance: interactive (< 1s per image)\n\n", color.GreenString("✓"))
	} else {
		_, _ = fmt.Fprintf(w, "%s Performance: batch (> 1s per image)\n\n", color.YellowString("⚠"))
	}
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func rate(size int, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(float64(size) / d.Seconds()))
}

// parseDims parses "WIDTHxHEIGHT".
func parseDims(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q (use WIDTHxHEIGHT)", s)
	}
	if width, err = strconv.Atoi(ws); err != nil || width < 1 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if height, err = strconv.Atoi(hs); err != nil || height < 1 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}

// gradient builds a deterministic test image.
func gradient(h, w int, mode pixel.Mode) (*pixel.Buffer, error) {
	b, err := pixel.New(h, w, mode)
	if err != nil {
		return nil, err
	}
	c := mode.Channels()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				b.Pix[(y*w+x)*c+ch] = byte(x*(ch+1) + y)
			}
		}
	}
	return b, nil
}
