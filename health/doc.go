// Package health provides the dependency checks worldsyncd reports through
// the gRPC health service.
//
// # Checks
//
//   - PingCheck: a dependency answers Ping (Redis)
//   - NetworkCheck / EndpointCheck: TCP connectivity to a host or http(s) URL
//   - FileCheck: a file or directory exists (journal directory)
//   - FreshnessCheck: something was loaded recently enough (catalog)
//   - QueueCheck: snapshots are arriving at a sane rate
//   - Combine: aggregate several statuses into one
//
// # Monitor
//
// A Monitor runs a list of named checks on an interval and pushes the
// combined result to a Reporter, normally the grpc health.Server:
//
//	m := health.NewMonitor(srv.HealthServer(), []health.Check{
//	    {Name: "redis", Run: func(ctx context.Context) health.Status {
//	        return health.PingCheck(ctx, "redis", feed)
//	    }},
//	    {Name: "catalog", Run: func(ctx context.Context) health.Status {
//	        return health.FreshnessCheck("catalog", cat.LoadedAt(), 5*time.Minute, time.Now())
//	    }},
//	})
//	go m.Run(ctx)
//
// Degraded results keep the service SERVING; only unhealthy results flip it
// to NOT_SERVING.
package health
