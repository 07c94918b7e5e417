// Package metrics provides observability primitives for the quantum-shield library.
//
// # Overview
//
// The metrics package offers:
//   - Metrics collection (counters and histograms)
//   - Prometheus text-format export
//   - Tracing support (OpenTelemetry-compatible interface)
//   - Structured logging with levels
//   - Health reports for the randomness and crypto subsystems
//
// # Metrics Collection
//
// The Collector type aggregates metrics from randomness sources, key
// generation, the cipher engine and key storage:
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "batch-1"})
//
//	collector.RecordBits(16)
//	collector.RecordPermutation("balanced", d)
//	collector.RecordEncrypt(len(pixels), d)
//	collector.RecordIntegrityFailure()
//
//	snap := collector.Snapshot()
//
// # Prometheus Export
//
// Write metrics in Prometheus text format, for example to a node_exporter
// textfile collector:
//
//	exporter := metrics.NewPrometheusExporter(collector, "quantum_shield")
//	exporter.WriteMetrics(os.Stdout)
//
// # Tracing
//
//	tracer := metrics.NewSimpleTracer()
//	metrics.SetTracer(tracer)
//
//	// OpenTelemetry adapter (uses the global provider).
//	// Build with -tags otel to enable it.
//	metrics.SetTracer(metrics.NewOTelTracer("quantum-shield"))
//
//	ctx, end := metrics.StartSpan(ctx, metrics.SpanEncrypt)
//	defer end(nil)
//
// # Structured Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Warn("circuit randomness unavailable", metrics.ErrFields(err))
//
// # Health Reports
//
//	health := metrics.NewHealthCheck(collector, version.Version)
//	health.AddCheck("post", crypto.POSTError)
//	health.AddAdvisoryCheck("circuit", circuitCheck)
//	report := health.Check()
package metrics
