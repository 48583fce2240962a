// Package worker drains the ingestion queues and drives the snapshot
// pipeline and chat handling.
//
// # Overview
//
// A Worker owns two kinds of loops:
//   - one snapshot loop, which pops batches in arrival order and hands each
//     to the enrichment pipeline
//   - N chat loops, which pop chat items, produce a reply and publish it to
//     every configured reply sink
//
// Snapshots are processed by a single goroutine so that consecutive batches
// are diffed against each other in the order they were received. Chat items
// are independent and fan out across Concurrency goroutines.
//
// # Usage
//
//	w, err := worker.New(worker.Options{
//	    Queue:       ingestion,
//	    Snapshots:   pipeline,
//	    Chats:       chat,
//	    Sinks:       []worker.ReplySink{feed, ingressServer},
//	    Registry:    feed,
//	    Concurrency: 4,
//	})
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
//
// # Lifecycle
//
// Run blocks until its context is cancelled. When a Registry is configured
// the worker increments the shared worker count on start, refreshes its
// heartbeat key every HeartbeatInterval and decrements the count on exit.
// After cancellation Run waits up to ShutdownTimeout for in-flight items to
// finish before returning.
//
// A panic while processing one item is recovered, logged and counted; the
// loop moves on to the next item.
package worker
