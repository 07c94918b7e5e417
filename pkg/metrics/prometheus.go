package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter for the given collector.
// The namespace is prepended to all metric names (e.g., "quantum_shield").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// ContentType is the media type of the exposition format produced by WriteMetrics.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

type counterDef struct {
	name  string
	help  string
	value func(*Snapshot) uint64
}

var counterDefs = []counterDef{
	{"random_bits_total", "Total random bits produced by randomness sources", func(s *Snapshot) uint64 { return s.BitsGenerated }},
	{"circuit_rounds_total", "Total measured circuit rounds", func(s *Snapshot) uint64 { return s.RoundsMeasured }},
	{"fallback_activations_total", "Times the fallback randomness backend was substituted", func(s *Snapshot) uint64 { return s.FallbackActivations }},
	{"keystreams_total", "Total keystreams generated", func(s *Snapshot) uint64 { return s.KeystreamsGenerated }},
	{"keystream_bytes_total", "Total keystream bytes generated", func(s *Snapshot) uint64 { return s.KeystreamBytes }},
	{"rejection_redraws_total", "Total Fisher-Yates rejection redraws", func(s *Snapshot) uint64 { return s.RejectionRedraws }},
	{"encrypt_operations_total", "Total successful buffer encryptions", func(s *Snapshot) uint64 { return s.EncryptOps }},
	{"decrypt_operations_total", "Total successful buffer decryptions", func(s *Snapshot) uint64 { return s.DecryptOps }},
	{"bytes_encrypted_total", "Total pixel bytes encrypted", func(s *Snapshot) uint64 { return s.BytesEncrypted }},
	{"bytes_decrypted_total", "Total pixel bytes decrypted", func(s *Snapshot) uint64 { return s.BytesDecrypted }},
	{"encrypt_errors_total", "Total encryption errors", func(s *Snapshot) uint64 { return s.EncryptErrors }},
	{"decrypt_errors_total", "Total decryption errors", func(s *Snapshot) uint64 { return s.DecryptErrors }},
	{"blobs_wrapped_total", "Total key blobs wrapped", func(s *Snapshot) uint64 { return s.BlobsWrapped }},
	{"blobs_unwrapped_total", "Total key blobs unwrapped", func(s *Snapshot) uint64 { return s.BlobsUnwrapped }},
	{"integrity_failures_total", "Total key blobs rejected by tag verification", func(s *Snapshot) uint64 { return s.IntegrityFailures }},
	{"credential_failures_total", "Total encrypted key blobs opened without a password", func(s *Snapshot) uint64 { return s.CredentialFailures }},
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := formatLabels(snap.Labels)

	for _, def := range counterDefs {
		e.writeHelp(w, def.name, def.help)
		e.writeType(w, def.name, "counter")
		e.writeMetric(w, def.name, labels, float64(def.value(&snap)))
	}

	e.writeHelp(w, "permutations_total", "Total permutations generated by purity setting")
	e.writeType(w, "permutations_total", "counter")
	for _, p := range []struct {
		purity string
		count  uint64
	}{
		{"maximum", snap.PermutationsMaximum},
		{"balanced", snap.PermutationsBalanced},
		{"fast", snap.PermutationsFast},
	} {
		e.writeMetric(w, "permutations_total", joinLabels(labels, `purity="`+p.purity+`"`), float64(p.count))
	}

	e.writeHelp(w, "uptime_seconds", "Time since the collector was created")
	e.writeType(w, "uptime_seconds", "gauge")
	e.writeMetric(w, "uptime_seconds", labels, snap.Uptime.Seconds())

	e.writeHistogram(w, "permutation_duration_milliseconds", "Permutation generation duration in milliseconds", labels, snap.PermutationLatency)
	e.writeHistogram(w, "encrypt_duration_milliseconds", "Buffer encryption duration in milliseconds", labels, snap.EncryptLatency)
	e.writeHistogram(w, "decrypt_duration_milliseconds", "Buffer decryption duration in milliseconds", labels, snap.DecryptLatency)
	e.writeHistogram(w, "kdf_duration_milliseconds", "Password key derivation duration in milliseconds", labels, snap.KDFLatency)
}

func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")

	fullName := e.namespace + "_" + name

	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(w, "%s_bucket{%s} %d\n", fullName, joinLabels(labels, `le="`+le+`"`), b.Count)
	}

	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// formatLabels converts Labels to Prometheus label format, sorted by key.
func formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, escapePromValue(labels[k])))
	}

	return strings.Join(parts, ",")
}

// escapePromValue escapes a string for use as a Prometheus label value.
func escapePromValue(s string) string {
	return promEscaper.Replace(s)
}

var promEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
