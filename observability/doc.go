// Package observability installs the OpenTelemetry pipelines of a
// noticemux daemon and holds the span names and attribute keys the other
// packages record.
//
//	tel, err := observability.Setup(ctx, cfg.Observability, observability.Identity{
//		Service: "noticemuxd", Version: version, Environment: env,
//	})
//	defer tel.Shutdown(ctx)
//
// Until Setup enables a pipeline the global providers are no-ops, so
// instruments and spans cost nothing.
package observability
