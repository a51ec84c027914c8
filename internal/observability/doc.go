// Package observability provides logging, metrics, and tracing
// functionality for dynamic-certs.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("step completed",
//	    observability.String("step", "sign-node-cert"),
//	)
//
// # Metrics
//
// A provisioning run is a one-shot process, so metrics are written to a
// node_exporter textfile or pushed to a Pushgateway once the run ends:
//
//	metrics := observability.NewMetrics("dynamic_certs")
//	metrics.RecordRun("openssl", elapsed, err)
//	_ = metrics.WriteTextfile("/var/lib/node_exporter/dynamic_certs.prom")
//
// # Tracing
//
// OpenTelemetry spans with optional OTLP export, one span per run and one
// child span per generation step.
package observability
