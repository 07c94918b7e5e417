// Command quantum-shield encrypts images with quantum-sourced key material.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pzverkov/quantum-shield/internal/config"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	pkgversion "github.com/pzverkov/quantum-shield/pkg/version"
)

const appName = "quantum-shield"

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

var (
	configPath string
	logLevel   string
	logFormat  string
	tracing    string
)

// Settled by the root pre-run hook before any subcommand runs.
var (
	cfg       config.Config
	collector *metrics.Collector
	logger    *metrics.Logger
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Encrypt images with quantum-sourced keys",
	Long: `quantum-shield encrypts images by XORing every channel byte with a keystream
drawn from a simulated quantum circuit and then scrambling byte positions with
a random permutation. Key material is sealed into a blob that can be
password-protected and kept in a file or in the local key store.

Settings are read from quantum-shield.yaml (or --config); flags win.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: flushTraces,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, silent")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&tracing, "tracing", "", "tracing mode: none, simple, otel")

	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd.Flags(), &loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	return setupObservability(cmd.ErrOrStderr(), cfg)
}

// applyFlagOverrides copies explicitly set flags over file values.
func applyFlagOverrides(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if flags.Changed("tracing") {
		c.Tracing = tracing
	}
	if f := flags.Lookup("purity"); f != nil && f.Changed {
		c.Purity = f.Value.String()
	}
	if f := flags.Lookup("qubits"); f != nil && f.Changed {
		if n, err := flags.GetInt("qubits"); err == nil {
			c.MaxQubits = n
		}
	}
	if f := flags.Lookup("iterations"); f != nil && f.Changed {
		if n, err := flags.GetInt("iterations"); err == nil {
			c.KDFIterations = n
		}
	}
	if f := flags.Lookup("store-dir"); f != nil && f.Changed {
		c.StoreDir = f.Value.String()
	}
	if f := flags.Lookup("store-backend"); f != nil && f.Changed {
		c.StoreBackend = f.Value.String()
	}
}

func setupObservability(w io.Writer, c config.Config) error {
	logger = metrics.NewLogger(
		metrics.WithOutput(w),
		metrics.WithLevel(metrics.ParseLevel(c.LogLevel)),
		metrics.WithFormat(metrics.ParseFormat(c.LogFormat)),
		metrics.WithFields(metrics.Fields{"app": appName}),
	)
	metrics.SetLogger(logger)

	switch strings.ToLower(c.Tracing) {
	case "none", "":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "simple":
		metrics.SetTracer(metrics.NewSimpleTracer())
	case "otel":
		if !metrics.OTelEnabled() {
			return fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer(appName))
	default:
		return fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", c.Tracing)
	}

	collector = metrics.NewCollector(metrics.Labels{
		"service": appName,
	})
	metrics.SetGlobal(collector)
	return nil
}

// newObserver returns an observer over the command's collector, tracer
// and logger.
func newObserver() *metrics.Observer {
	return metrics.NewObserver(metrics.ObserverConfig{
		Collector: collector,
		Tracer:    metrics.GetTracer(),
		Logger:    logger,
	})
}

// flushTraces logs spans recorded by the simple tracer at debug level.
func flushTraces(_ *cobra.Command, _ []string) {
	st, ok := metrics.GetTracer().(*metrics.SimpleTracer)
	if !ok || logger == nil {
		return
	}
	for _, span := range st.Spans() {
		fields := metrics.Fields{
			"span":     span.Name,
			"duration": span.Duration.String(),
		}
		for k, v := range span.Attributes {
			fields[k] = v
		}
		if span.Error != nil {
			fields["error"] = span.Error.Error()
		}
		logger.Debug("trace", fields)
	}
	st.Reset()
}

// resetGlobalState restores flag values and command state between runs
// in tests.
func resetGlobalState() {
	configPath, logLevel, logFormat, tracing = "", "", "", ""
	resetEncryptCommandState()
	resetDecryptCommandState()
	resetInspectCommandState()
	resetStoreCommandState()
	resetDoctorCommandState()
	resetBenchCommandState()
	resetFlags(rootCmd)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
