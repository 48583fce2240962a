package snapshot

import (
	"math"
	"strconv"
	"strings"

	"github.com/zero-day-ai/worldsync/location"
)

// ClauseSeparator joins narrative clauses.
const ClauseSeparator = " | "

// Action labels, in priority order.
const (
	LabelDead            = "Dead"
	LabelSeverelyInjured = "Severely injured"
	LabelInjured         = "Injured"
	LabelMoving          = "Moving"
	LabelIdle            = "Idle"
)

// Diff is the narrative delta between two generations of one entity.
type Diff struct {
	Health       string
	Activity     string
	Location     string
	LocationName string
	GroupChanges []string
	Joined       []string
	Left         []string
	ActionLabel  string
	GroupSummary string

	NeedsStatusUpdate bool
}

// Narrative joins every non-empty clause of the diff.
func (d Diff) Narrative() string {
	parts := make([]string, 0, 3+len(d.GroupChanges))
	for _, p := range []string{d.Activity, d.Health, d.Location} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, d.GroupChanges...)
	return strings.Join(parts, ClauseSeparator)
}

// Differ compares consecutive snapshot generations.
type Differ struct {
	resolver *location.Resolver
}

// NewDiffer creates a Differ resolving positions through r.
func NewDiffer(r *location.Resolver) *Differ {
	return &Differ{resolver: r}
}

// Diff compares cur against prev, which is nil for an entity seen for the
// first time.
func (d *Differ) Diff(id string, prev *EntityState, cur EntityState) Diff {
	out := Diff{
		LocationName: cur.Location,
		ActionLabel:  ActionLabel(cur.Health),
	}
	if cur.Position != nil && d.resolver != nil {
		out.LocationName = d.resolver.NearestName(*cur.Position)
		out.Location = d.resolver.Narrative(*cur.Position)
	}

	others := cur.Others(id)
	out.GroupSummary = GroupSummary(len(others))

	if prev == nil {
		out.Activity = ActivityNarrative(nil, cur.Health)
		out.Joined = others
		out.NeedsStatusUpdate = true
		return out
	}

	out.Health = HealthNarrative(prev.Health, cur.Health)
	out.Activity = ActivityNarrative(prev.Health, cur.Health)

	// No group data means membership is unknown, not empty.
	if cur.Group == nil {
		others = prev.Others(id)
		out.GroupSummary = GroupSummary(len(others))
	} else {
		out.Left, out.Joined = memberChanges(prev.Others(id), others)
		out.GroupChanges = GroupNarrative(prev.Others(id), others)
	}

	prevLocation := prev.Location
	if prev.Position != nil && d.resolver != nil {
		prevLocation = d.resolver.NearestName(*prev.Position)
	}
	out.NeedsStatusUpdate = prevLocation != out.LocationName ||
		ActionLabel(prev.Health) != out.ActionLabel ||
		GroupSummary(len(prev.Others(id))) != out.GroupSummary
	return out
}

// HealthNarrative describes the change from old to cur. It returns "" when
// either side is missing.
func HealthNarrative(old, cur *Health) string {
	if old == nil || cur == nil {
		return ""
	}

	var clauses []string
	wasDead := old.State == ActivityDead
	isDead := cur.State == ActivityDead
	switch {
	case isDead && !wasDead:
		clauses = append(clauses, "Died")
		if cur.Current == 0 {
			clauses = append(clauses, "Took fatal damage")
		}
	case wasDead && !isDead:
		clauses = append(clauses, "Resurrected")
	}
	if cur.Max == 0 {
		clauses = append(clauses, "In an unusual health state")
	}

	diff := cur.Current - old.Current
	switch {
	case diff < -20:
		clauses = append(clauses, "Took severe damage (-"+formatAmount(-diff)+")")
	case diff < 0:
		clauses = append(clauses, "Took minor damage")
	case diff > 20:
		clauses = append(clauses, "Recovered significantly (+"+formatAmount(diff)+")")
	case diff > 0:
		clauses = append(clauses, "Slowly recovering")
	}
	return strings.Join(clauses, ClauseSeparator)
}

// ActivityNarrative describes what the entity is doing and what it stopped
// doing. old may be nil. An emote is described only on entering Emoting.
func ActivityNarrative(old, cur *Health) string {
	if cur == nil {
		return ""
	}

	var clauses []string
	if old != nil && old.State != cur.State {
		switch old.State {
		case ActivityRunning, ActivityWalking, ActivityDancing:
			clauses = append(clauses, "Stopped "+strings.ToLower(string(old.State)))
		}
	}

	switch cur.State {
	case ActivityEmoting:
		if old == nil || old.State != ActivityEmoting {
			clauses = append(clauses, emoteNarrative(cur.Emote))
		}
	case ActivityRunning:
		if cur.IsMoving {
			clauses = append(clauses, "Running")
		} else {
			clauses = append(clauses, "Standing")
		}
	case ActivityJumping:
		clauses = append(clauses, "Just jumped")
	case ActivityWalking:
		clauses = append(clauses, "Walking")
	case ActivityIdle:
		clauses = append(clauses, "Standing still")
	}
	return strings.Join(clauses, ClauseSeparator)
}

func emoteNarrative(e *Emote) string {
	if e == nil {
		return "Performing emote"
	}
	switch strings.ToLower(e.Name) {
	case EmoteWave:
		if e.Target != "" {
			return "Waving at " + e.Target
		}
	case EmoteDance:
		if e.Style != "" {
			return "Dancing " + e.Style + " style"
		}
		return "Dancing"
	}
	return "Performing emote"
}

// GroupNarrative reports leavers (old order) before joiners (new order).
func GroupNarrative(old, cur []string) []string {
	left, joined := memberChanges(old, cur)
	var out []string
	if len(left) > 0 {
		out = append(out, strings.Join(left, ", ")+" left the group")
	}
	if len(joined) > 0 {
		out = append(out, strings.Join(joined, ", ")+" joined the group")
	}
	return out
}

func memberChanges(old, cur []string) (left, joined []string) {
	inOld := make(map[string]struct{}, len(old))
	for _, m := range old {
		inOld[m] = struct{}{}
	}
	inCur := make(map[string]struct{}, len(cur))
	for _, m := range cur {
		inCur[m] = struct{}{}
	}
	for _, m := range old {
		if _, ok := inCur[m]; !ok {
			left = append(left, m)
		}
	}
	for _, m := range cur {
		if _, ok := inOld[m]; !ok {
			joined = append(joined, m)
		}
	}
	return left, joined
}

// ActionLabel is the coarse status shown in the NPC's status block.
func ActionLabel(h *Health) string {
	if h == nil {
		return LabelIdle
	}
	if h.State == ActivityDead {
		return LabelDead
	}
	if h.Max > 0 {
		if h.Current < 0.3*h.Max {
			return LabelSeverelyInjured
		}
		if h.Current < 0.7*h.Max {
			return LabelInjured
		}
	}
	if h.IsMoving {
		return LabelMoving
	}
	return LabelIdle
}

// GroupSummary renders the size of a group excluding self.
func GroupSummary(others int) string {
	switch others {
	case 0:
		return "Alone"
	case 1:
		return "With 1 other"
	default:
		return "With " + strconv.Itoa(others) + " others"
	}
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
