// Package queue decouples arrival of world snapshots and chat requests from
// their processing.
//
// Ingestion holds two unbounded in-process FIFOs, one per item kind. Producers
// (the websocket ingress or a RedisFeed) enqueue validated items and workers
// pop them. Snapshot arrivals are tracked over a sliding window so that an
// upstream producing faster than the target rate shows up in the logs; the
// queue never throttles or drops.
//
// # Redis Key Schema
//
// RedisFeed carries items between processes:
//   - worldsync:items - List of item envelopes (LPUSH/BRPOP)
//   - worldsync:replies - Pub/Sub channel for chat replies
//   - worldsync:worker:<id>:health - String with 30s TTL for heartbeat
//   - worldsync:workers - Integer counter for active workers
//
// # Usage
//
//	in := queue.NewIngestion(queue.WithLogger(logger))
//	if err := in.EnqueueSnapshot(queue.SnapshotItem{Batch: batch}); err != nil {
//		// the item was rejected; nothing else is affected
//	}
//	item, err := in.PopSnapshot(ctx)
package queue
