package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
)

var doctorJSONOutput bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSONOutput, "json", false, "output in JSON format")
	doctorCmd.Flags().Int("qubits", 0, "qubits per circuit round")
}

func resetDoctorCommandState() {
	doctorJSONOutput = false
}

var errUnhealthy = errors.New("health checks failed")

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run self-tests on the crypto and randomness subsystems",
	Long: `Runs the health checks used to decide whether keys can be trusted:

  - crypto self-tests (PBKDF2, HMAC, key stretch and stream known answers)
  - the operating system random number generator
  - the randomness source used for key generation
  - which randomness backend is active (advisory)

The command fails when any critical check fails. A fallback backend only
degrades the report.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	logger.Info("Starting doctor command")

	src, srcErr := qrand.New(
		qrand.WithMaxQubits(cfg.MaxQubits),
		qrand.WithLogger(logger),
		qrand.WithCollector(collector),
	)

	hc := metrics.NewHealthCheck(collector, getVersion())
	hc.AddCheck("self-test", crypto.POSTError)
	hc.AddCheck("system-rng", func() error {
		return crypto.RNGHealthCheck().Enforce("system rng")
	})
	hc.AddCheck("randomness", func() error {
		if srcErr != nil {
			return srcErr
		}
		return qrand.HealthCheck(src)
	})
	hc.AddAdvisoryCheck("backend", func() error {
		if srcErr == nil && src.Mode() != qrand.ModeCircuit {
			return fmt.Errorf("%s backend in use", src.Mode())
		}
		return nil
	})

	report := hc.Check()
	for _, name := range report.CheckNames() {
		r := report.Checks[name]
		logger.Debug("check", metrics.Fields{"name": name, "status": string(r.Status), "latency": r.Latency})
	}

	if doctorJSONOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printHealthReport(cmd.OutOrStdout(), report, src)
	}

	if report.Status == metrics.HealthStatusUnhealthy {
		return errUnhealthy
	}
	return nil
}

func printHealthReport(w io.Writer, report metrics.HealthReport, src qrand.Source) {
	_, _ = fmt.Fprintf(w, "quantum-shield %s health\n", report.Version)
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, name := range report.CheckNames() {
		r := report.Checks[name]
		switch r.Status {
		case metrics.HealthStatusHealthy:
			_, _ = fmt.Fprintf(w, "%s %-12s %s\n", color.GreenString("✓"), name, r.Latency)
		case metrics.HealthStatusDegraded:
			_, _ = fmt.Fprintf(w, "%s %-12s %s\n", color.YellowString("⚠"), name, r.Message)
		default:
			_, _ = fmt.Fprintf(w, "%s %-12s %s\n", color.RedString("✗"), name, r.Message)
		}
	}
	_, _ = fmt.Fprintln(w)
	if src != nil {
		_, _ = fmt.Fprintf(w, "Backend: %s\n", src.Mode())
	}

	switch report.Status {
	case metrics.HealthStatusHealthy:
		_, _ = fmt.Fprintf(w, "Status:  %s\n", color.GreenString(string(report.Status)))
	case metrics.HealthStatusDegraded:
		_, _ = fmt.Fprintf(w, "Status:  %s\n", color.YellowString(string(report.Status)))
	default:
		_, _ = fmt.Fprintf(w, "Status:  %s\n", color.RedString(string(report.Status)))
	}
}
