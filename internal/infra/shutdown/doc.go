// Package shutdown coordinates graceful process termination.
//
// Components register named hooks as they start; on SIGINT, SIGTERM or
// cancellation of the parent context the hooks run in reverse registration
// order under a shared deadline.
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("broker", broker.Shutdown)
//	err := h.Wait(ctx)
package shutdown
