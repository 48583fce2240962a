package snapshot

import (
	"sort"

	"github.com/zero-day-ai/worldsync/location"
)

// Activity is the animation state reported for an entity.
type Activity string

const (
	ActivityIdle    Activity = "Idle"
	ActivityWalking Activity = "Walking"
	ActivityRunning Activity = "Running"
	ActivityJumping Activity = "Jumping"
	ActivityDancing Activity = "Dancing"
	ActivityEmoting Activity = "Emoting"
	ActivityDead    Activity = "Dead"
)

// Valid reports whether a is a known activity. The empty activity is valid.
func (a Activity) Valid() bool {
	switch a {
	case "", ActivityIdle, ActivityWalking, ActivityRunning, ActivityJumping,
		ActivityDancing, ActivityEmoting, ActivityDead:
		return true
	}
	return false
}

// Emote names understood by the activity narrative.
const (
	EmoteWave  = "wave"
	EmoteDance = "dance"
)

// Emote describes the emote an entity is performing.
type Emote struct {
	Name   string `json:"name"`
	Target string `json:"target,omitempty"`
	Style  string `json:"style,omitempty"`
}

// Health is an entity's vitals and animation state.
type Health struct {
	Current  float64  `json:"current"`
	Max      float64  `json:"max"`
	State    Activity `json:"state,omitempty"`
	IsMoving bool     `json:"isMoving,omitempty"`
	Emote    *Emote   `json:"emote,omitempty"`
}

// Group is the cluster an entity currently belongs to.
type Group struct {
	Members []string `json:"members"`
	NPCs    int      `json:"npcs"`
	Players int      `json:"players"`
	Formed  int64    `json:"formed,omitempty"`
}

// Interaction is one narrative line attached to an entity.
type Interaction struct {
	Timestamp int64  `json:"timestamp"`
	Narrative string `json:"narrative"`
}

// EntityState is everything known about one entity in one snapshot.
type EntityState struct {
	Health             *Health            `json:"health,omitempty"`
	Position           *location.Position `json:"position,omitempty"`
	Group              *Group             `json:"currentGroups,omitempty"`
	RecentInteractions []Interaction      `json:"recentInteractions,omitempty"`
	LastSeen           int64              `json:"lastSeen,omitempty"`
	Location           string             `json:"location,omitempty"`
	NeedsStatusUpdate  bool               `json:"needsStatusUpdate,omitempty"`
}

// Others returns the entity's group members excluding self, in list order.
func (s EntityState) Others(self string) []string {
	if s.Group == nil {
		return nil
	}
	out := make([]string, 0, len(s.Group.Members))
	seen := make(map[string]struct{}, len(s.Group.Members))
	for _, m := range s.Group.Members {
		if m == self || m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// clone copies the slices and pointers owned by s.
func (s EntityState) clone() EntityState {
	out := s
	if s.Health != nil {
		h := *s.Health
		if s.Health.Emote != nil {
			e := *s.Health.Emote
			h.Emote = &e
		}
		out.Health = &h
	}
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	if s.Group != nil {
		g := *s.Group
		g.Members = append([]string(nil), s.Group.Members...)
		out.Group = &g
	}
	out.RecentInteractions = append([]Interaction(nil), s.RecentInteractions...)
	return out
}

// Cluster is an upstream-detected group of co-located entities.
type Cluster struct {
	Members []string `json:"members"`
	NPCs    int      `json:"npcs"`
	Players int      `json:"players"`
}

// Batch is one full world snapshot.
type Batch struct {
	Timestamp int64                  `json:"timestamp"`
	Clusters  []Cluster              `json:"clusters"`
	Entities  map[string]EntityState `json:"humanContext"`
}

// IDs returns entity ids in sorted order.
func (b Batch) IDs() []string {
	ids := make([]string, 0, len(b.Entities))
	for id := range b.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
