// Package serve runs the gRPC listener worldsyncd exposes for health
// checking.
//
// The server registers the standard grpc.health.v1 service. Its status is
// driven by a health.Monitor; orchestrators probe it with grpc_health_probe
// or an equivalent client:
//
//	srv, err := serve.NewServer(&serve.Config{Port: 50051}, logger)
//	if err != nil {
//	    return err
//	}
//	go health.NewMonitor(srv.HealthServer(), checks).Run(ctx)
//	return srv.Serve(ctx)
//
// Serve returns when ctx is cancelled, after a graceful stop bounded by
// GracefulTimeout.
package serve
