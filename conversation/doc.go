// Package conversation manages NPC conversation sessions.
//
// Manager is a registry of active sessions indexed by id and by participant.
// A session is created on the first message between a pair, mutated by
// Append and destroyed by End, either explicitly, on a stop_talking action, or
// by CleanupExpired once idle for longer than the expiry. Sweeper runs
// CleanupExpired on its own ticker.
//
// Chat handles one inbound chat item end to end: it finds or opens the session,
// asks the responder for the NPC's line and records both sides.
package conversation
