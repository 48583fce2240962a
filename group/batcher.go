package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/memory"
)

// NoAppearance replaces a missing appearance description.
const NoAppearance = "No appearance on file"

// DefaultCallTimeout bounds each memory service call made by the batcher.
const DefaultCallTimeout = 10 * time.Second

// Health status values written to the group block.
const (
	StatusHealthy  = "healthy"
	StatusInjured  = "injured"
	StatusCritical = "critical"
	StatusDead     = "dead"
)

// AppearanceLookup resolves a member id to a physical description.
// A miss returns an error wrapping worldsync.ErrNotFound.
type AppearanceLookup interface {
	Appearance(ctx context.Context, memberID string) (string, error)
}

// AppearanceFunc adapts a function to AppearanceLookup.
type AppearanceFunc func(ctx context.Context, memberID string) (string, error)

// Appearance calls f.
func (f AppearanceFunc) Appearance(ctx context.Context, memberID string) (string, error) {
	return f(ctx, memberID)
}

// HealthData is the member's health as last seen in a snapshot.
type HealthData struct {
	Current float64
	Max     float64
}

// MemberUpdate describes one member joining or leaving an NPC's group.
type MemberUpdate struct {
	MemberID  string
	Name      string
	IsJoining bool
	Health    *HealthData
	Location  string
}

// MemberResult is the outcome for one member.
type MemberResult struct {
	MemberID string
	Success  bool
	Message  string
	Err      error
}

// BatchResult collects per-member outcomes.
type BatchResult struct {
	AgentID string
	Success bool
	Members []MemberResult
}

// Failed returns the members whose update failed.
func (r BatchResult) Failed() []MemberResult {
	var out []MemberResult
	for _, m := range r.Members {
		if !m.Success {
			out = append(out, m)
		}
	}
	return out
}

// HealthStatus buckets health into healthy, injured, critical or dead.
// Missing data counts as healthy.
func HealthStatus(h *HealthData) string {
	if h == nil {
		return StatusHealthy
	}
	if h.Current <= 0 {
		return StatusDead
	}
	if h.Max <= 0 {
		return StatusHealthy
	}
	pct := h.Current / h.Max * 100
	switch {
	case pct <= 25:
		return StatusCritical
	case pct <= 75:
		return StatusInjured
	default:
		return StatusHealthy
	}
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock sets the clock used for LastSeen.
func WithClock(now func() time.Time) BatcherOption {
	return func(b *Batcher) {
		if now != nil {
			b.now = now
		}
	}
}

// Batcher applies member updates to an NPC's group memory.
type Batcher struct {
	svc        memory.Service
	appearance AppearanceLookup
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewBatcher creates a Batcher. appearance may be nil.
func NewBatcher(svc memory.Service, appearance AppearanceLookup, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		svc:        svc,
		appearance: appearance,
		timeout:    DefaultCallTimeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "group_batcher")
	return b
}

// Apply upserts every update for agentID. Each member is isolated: a failure
// is recorded and the batch continues. The batch succeeds when at least one
// member update succeeded.
func (b *Batcher) Apply(ctx context.Context, agentID string, updates []MemberUpdate) BatchResult {
	res := BatchResult{AgentID: agentID, Members: make([]MemberResult, 0, len(updates))}

	for _, u := range updates {
		mr := b.applyOne(ctx, agentID, u)
		if mr.Success {
			res.Success = true
		}
		res.Members = append(res.Members, mr)
	}

	if len(updates) > 0 && !res.Success {
		b.logger.Error("group batch failed for every member",
			"agent_id", agentID,
			"members", len(updates))
	}
	return res
}

func (b *Batcher) applyOne(ctx context.Context, agentID string, u MemberUpdate) (mr MemberResult) {
	mr.MemberID = u.MemberID
	defer func() {
		if r := recover(); r != nil {
			mr.Success = false
			mr.Err = worldsync.NewInternalError("Batcher.Apply", fmt.Errorf("panic: %v", r))
			b.logger.Error("panic applying member update",
				"agent_id", agentID,
				"member_id", u.MemberID,
				"panic", r)
		}
	}()

	name := u.Name
	if name == "" {
		name = u.MemberID
	}
	member := memory.Member{
		ID:           u.MemberID,
		Name:         name,
		Appearance:   b.lookupAppearance(ctx, u.MemberID),
		HealthStatus: HealthStatus(u.Health),
		Location:     u.Location,
		IsPresent:    u.IsJoining,
	}
	if u.IsJoining {
		member.Notes = "Joined group"
	} else {
		seen := b.now()
		member.LastSeen = &seen
		member.Notes = "Left group"
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := b.svc.UpsertMember(callCtx, agentID, member)
	if err != nil {
		mr.Err = worldsync.NewCollaboratorError("Batcher.Apply", err).WithContext(map[string]any{
			"agent_id":  agentID,
			"member_id": u.MemberID,
		})
		mr.Message = err.Error()
		b.logger.Error("member upsert failed",
			"agent_id", agentID,
			"member_id", u.MemberID,
			"joining", u.IsJoining,
			"error", err)
		return mr
	}
	if !result.Success {
		mr.Message = result.Message
		mr.Err = worldsync.NewCollaboratorError("Batcher.Apply", errors.New(result.Message))
		return mr
	}

	mr.Success = true
	mr.Message = result.Message
	b.logger.Debug("member upserted",
		"agent_id", agentID,
		"member_id", u.MemberID,
		"joining", u.IsJoining,
		"health_status", member.HealthStatus)
	return mr
}

func (b *Batcher) lookupAppearance(ctx context.Context, memberID string) string {
	if b.appearance == nil {
		return NoAppearance
	}
	desc, err := b.appearance.Appearance(ctx, memberID)
	if err != nil || strings.TrimSpace(desc) == "" {
		b.logger.Warn("appearance lookup miss",
			"member_id", memberID,
			"error", err)
		return NoAppearance
	}
	return desc
}

// Announce tells the NPC about new and removed group members through system
// messages. Both messages are attempted; the first error is returned.
func (b *Batcher) Announce(ctx context.Context, agentID string, joined, departed []string) error {
	var msgs []string
	if len(joined) > 0 {
		msgs = append(msgs, "[SYSTEM] New group members have joined: "+strings.Join(joined, ", "))
	}
	for _, m := range departed {
		msgs = append(msgs, fmt.Sprintf("[SYSTEM] %s has been removed from your group.", m))
	}

	var first error
	for _, text := range msgs {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		_, err := b.svc.SendMessage(callCtx, agentID, memory.Message{Role: memory.RoleSystem, Content: text})
		cancel()
		if err != nil {
			b.logger.Error("group announcement failed",
				"agent_id", agentID,
				"error", err)
			if first == nil {
				first = worldsync.NewCollaboratorError("Batcher.Announce", err)
			}
		}
	}
	return first
}
