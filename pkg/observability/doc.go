// Package observability provides OpenTelemetry tracing and metrics for the
// fabric services.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "fabricd",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Wrap the router to record RED metrics per route:
//
//	srv := &http.Server{Handler: obs.HTTPMiddleware(mux)}
//
// Create spans around operations:
//
//	ctx, finish := obs.TrackOperation(ctx, "task.lease",
//		observability.LeaseOperation(tenantID, leaseID, workerID, attempt)...)
//	defer finish(err)
//
// # SLOs
//
// The SLOTracker follows burn rate against the targets in DefaultTargets;
// the SLIRegistry holds the queryable indicator definitions behind them.
package observability
