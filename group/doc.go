// Package group tracks NPC group membership across snapshots and pushes the
// resulting member changes into agent memory.
//
// Tracker is a per-NPC state machine. Each (npc, member) pair is Present,
// PendingRemoval(t) or Absent. A member that drops out of the NPC's cluster is
// not removed immediately: it sits in PendingRemoval for the grace timeout and
// is only finalized by Sweep. Reappearing inside the window cancels the removal
// silently.
//
// Batcher turns joins and finalized departures into memory.Member upserts,
// one call per member, and reports partial failures instead of aborting.
package group
