package group

import (
	"sort"
	"sync"
	"time"
)

// DefaultGraceTimeout is how long a departed member stays pending before
// the removal is finalized.
const DefaultGraceTimeout = 300 * time.Second

// MemberState is the tracker state of one member of one NPC's group.
type MemberState int

const (
	Absent MemberState = iota
	Present
	PendingRemoval
)

// String returns the state name.
func (s MemberState) String() string {
	switch s {
	case Present:
		return "present"
	case PendingRemoval:
		return "pending_removal"
	default:
		return "absent"
	}
}

// Transition is the outcome of observing one NPC's group.
type Transition struct {
	// Joined members were absent and need a new-member notice.
	Joined []string

	// Returned members were pending removal; the removal was cancelled.
	Returned []string

	// Departed members were present and are now pending removal.
	Departed []string
}

// Empty reports whether nothing changed.
func (t Transition) Empty() bool {
	return len(t.Joined) == 0 && len(t.Returned) == 0 && len(t.Departed) == 0
}

type npcGroup struct {
	present map[string]struct{}
	pending map[string]time.Time

	// finalizing holds expired removals not yet confirmed by Confirm.
	finalizing map[string]time.Time
}

func (g *npcGroup) empty() bool {
	return len(g.present) == 0 && len(g.pending) == 0 && len(g.finalizing) == 0
}

// Tracker holds per-NPC membership state. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	grace time.Duration
	npcs  map[string]*npcGroup
}

// NewTracker creates a Tracker. A non-positive grace uses DefaultGraceTimeout.
func NewTracker(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGraceTimeout
	}
	return &Tracker{
		grace: grace,
		npcs:  make(map[string]*npcGroup),
	}
}

// Grace returns the configured grace timeout.
func (t *Tracker) Grace() time.Duration {
	return t.grace
}

// Observe records the current member list of npc.
//
// members is the NPC's cluster without the NPC itself; duplicates are ignored.
// Order of Joined and Returned follows members, Departed is sorted.
func (t *Tracker) Observe(npc string, members []string, now time.Time) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.npcs[npc]
	if !ok {
		g = &npcGroup{
			present:    make(map[string]struct{}),
			pending:    make(map[string]time.Time),
			finalizing: make(map[string]time.Time),
		}
		t.npcs[npc] = g
	}

	var tr Transition
	current := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" || m == npc {
			continue
		}
		if _, dup := current[m]; dup {
			continue
		}
		current[m] = struct{}{}

		if _, here := g.present[m]; here {
			continue
		}
		if _, pending := g.pending[m]; pending {
			delete(g.pending, m)
			tr.Returned = append(tr.Returned, m)
		} else {
			delete(g.finalizing, m)
			tr.Joined = append(tr.Joined, m)
		}
		g.present[m] = struct{}{}
	}

	for m := range g.present {
		if _, still := current[m]; still {
			continue
		}
		delete(g.present, m)
		if _, already := g.pending[m]; !already {
			g.pending[m] = now
			tr.Departed = append(tr.Departed, m)
		}
	}
	sort.Strings(tr.Departed)

	return tr
}

// Sweep finalizes every pending removal older than the grace timeout and
// returns the finalized members keyed by NPC. Finalized members become Absent
// but are reported again on every Sweep until Confirm acknowledges them, so a
// departure whose sync failed is retried on the next cycle.
func (t *Tracker) Sweep(now time.Time) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][]string)
	for npc, g := range t.npcs {
		for m, since := range g.pending {
			if now.Sub(since) > t.grace {
				delete(g.pending, m)
				g.finalizing[m] = since
			}
		}
		for m := range g.finalizing {
			out[npc] = append(out[npc], m)
		}
		if list := out[npc]; len(list) > 1 {
			sort.Strings(list)
		}
		if g.empty() {
			delete(t.npcs, npc)
		}
	}
	return out
}

// Confirm acknowledges finalized removals of npc's members once the
// departure has been synced. Unknown members are ignored.
func (t *Tracker) Confirm(npc string, members ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.npcs[npc]
	if !ok {
		return
	}
	for _, m := range members {
		delete(g.finalizing, m)
	}
	if g.empty() {
		delete(t.npcs, npc)
	}
}

// Finalizing returns npc's finalized removals awaiting Confirm, sorted.
func (t *Tracker) Finalizing(npc string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.npcs[npc]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.finalizing))
	for m := range g.finalizing {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// State returns the state of member in npc's group.
func (t *Tracker) State(npc, member string) MemberState {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.npcs[npc]
	if !ok {
		return Absent
	}
	if _, ok := g.present[member]; ok {
		return Present
	}
	if _, ok := g.pending[member]; ok {
		return PendingRemoval
	}
	return Absent
}

// Pending returns a copy of npc's pending removals.
func (t *Tracker) Pending(npc string) map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Time)
	if g, ok := t.npcs[npc]; ok {
		for m, ts := range g.pending {
			out[m] = ts
		}
	}
	return out
}

// Present returns npc's present members, sorted.
func (t *Tracker) Present(npc string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.npcs[npc]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.present))
	for m := range g.present {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
