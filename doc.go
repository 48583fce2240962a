// Package worldsync keeps NPC agent memory in sync with a live world
// snapshot feed and runs NPC conversations.
//
// # Overview
//
// A game server streams two kinds of items: world snapshots (positions,
// health, activity and social clusters of every entity) and chat messages
// addressed to NPCs. worldsync turns the noisy, high-frequency snapshot
// stream into low-frequency natural-language deltas written into each NPC's
// persistent memory, held by an external agent-memory service, and answers
// chat on behalf of NPCs.
//
// # Packages
//
//   - location: coordinate rounding and "at the entrance to X" narratives
//   - snapshot: batch types, the differ, the enrichment pipeline and status blocks
//   - group: membership tracking with a removal grace period and member upserts
//   - conversation: the session registry, expiry sweeper and chat handling
//   - queue: the in-process ingestion queue and the Redis feed
//   - ingress: the websocket endpoint with JSON Schema validation
//   - catalog: the SQLite-backed location, agent and appearance catalog
//   - memory: the agent-memory service client
//   - llm: the fallback chat model
//   - journal: the rotating zstd narrative journal
//   - worker: the loops that drain the queue
//   - health, serve: dependency checks behind the gRPC health service
//   - config, telemetry: configuration loading, tracing and metrics
//
// The worldsyncd command in cmd/worldsyncd wires them together.
//
// # Errors
//
// Components return *Error values carrying an operation name and a Kind.
// Callers branch on the kind with KindOf or errors.Is:
//
//	if worldsync.KindOf(err) == worldsync.KindValidation {
//	    // drop the item, keep the queue running
//	}
//
//	if errors.Is(err, worldsync.ErrNotFound) {
//	    // fall back to default text
//	}
package worldsync
