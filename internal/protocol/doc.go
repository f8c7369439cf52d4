// Package protocol supervises one protocol server.
//
// A Handle owns exactly one backend.Server and, once started, the goroutine
// running its serve loop. Start prepares the transport and launches the
// loop; a loop that exits inside the startup grace window is reported as a
// startup error so callers can refuse to come up half started. Stop
// cancels the loop and waits for it to unwind, bounded by the shutdown
// timeout.
//
// Lifecycle:
//
//	constructed → started → serving → cancelling → stopped
//	                  ↘ failed        ↘ failed (loop exited on its own)
//
// There is no restart. A handle is started at most once.
//
// Example usage:
//
//	h := protocol.New(srv, protocol.DefaultConfig("server"))
//	h.SetLogger(log)
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Stop(context.Background())
package protocol
