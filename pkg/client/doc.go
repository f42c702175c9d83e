/*
Package client provides a Go client for the sweep gRPC API.

The client speaks the JSON codec registered by package api, so no generated
code is involved. It serves two callers:

  - the CLI, which seeds an experiment and reads its status (over TCP, or
    over the coordinator's read-only Unix socket)
  - remote workers, which lease, acknowledge and fail tasks

Client implements worker.Source:

	c, err := client.NewClient("coordinator:7070")
	if err != nil {
		return err
	}
	defer c.Close()

	w, err := worker.NewWorker(c, worker.Config{
		Queue:    "worker",
		Handlers: orchestrator.WorkerHandlers(exp, nil),
	})

Lease long-polls the coordinator in windows of LeaseWait and returns only
when a task arrives or the context ends. Errors are mapped back onto the
queue and status sentinels, so errors.Is(err, queue.ErrAlreadyAcked) and
errors.As(err, &dup) with a *status.DuplicateSeedError work across the wire.

Pass WithTLS to connect with mutual TLS.
*/
package client
