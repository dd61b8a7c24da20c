// Package observability provides logging, metrics, and tracing
// functionality for keygate.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("key version resolved",
//	    observability.Int("version", 3),
//	)
//
// Loggers created by NewLogger implement LevelSetter so the level can be
// changed after a configuration reload.
//
// # Metrics
//
// Prometheus metrics live on a private registry:
//
//	metrics := observability.NewMetrics("keygate")
//	mux.Handle("/actuator/prometheus", metrics.Handler())
//
// # Tracing
//
// OpenTelemetry tracing with OTLP gRPC export, see NewTracer.
package observability
