// Package snapshot turns periodic world snapshots into narrative deltas for
// NPC memory.
//
// A Batch carries the full state of every tracked entity. Pipeline.Enrich
// compares each entity with the immediately preceding generation (PriorStore),
// resolves its position to a named location, produces health, activity and
// group narratives (Differ) and drives the group membership tracker. Only
// after every entity is processed is the prior generation replaced.
//
// Pipeline.Sync then pushes the result to agent memory: the status block when
// NeedsStatusUpdate is set, member upserts for joins and finalized departures,
// and system announcements. Entities are synced independently.
package snapshot
