/*
Package health checks the dependencies of a sweep process and publishes
their state to the metrics health registry.

A worker is only useful while its coordinator answers. The worker command
runs a Monitor with two checkers: a TCP dial of the coordinator address
and a status RPC over the gRPC connection. Each result updates the
component of the same name, so /ready on the worker turns unavailable
after Retries consecutive failures and recovers on the first success.

	mon := health.NewMonitor(health.DefaultConfig(),
		health.NewTCPChecker("coordinator", addr),
		health.NewFuncChecker("coordinator-api", func(ctx context.Context) error {
			_, err := c.Status(ctx)
			return err
		}),
	)
	mon.Start()
	defer mon.Stop()
*/
package health
