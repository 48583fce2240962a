package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/group"
	"github.com/zero-day-ai/worldsync/location"
	"github.com/zero-day-ai/worldsync/telemetry"
)

var errStatusRejected = errors.New("status update rejected")

// AgentResolver maps an entity id to the memory agent backing it. Entities
// without an agent (players) are enriched but never synced.
type AgentResolver interface {
	AgentID(entityID string) (string, bool)
}

// AgentResolverFunc adapts a function to AgentResolver.
type AgentResolverFunc func(entityID string) (string, bool)

// AgentID calls f.
func (f AgentResolverFunc) AgentID(entityID string) (string, bool) {
	return f(entityID)
}

// Recorder receives one journal entry per synced entity.
type Recorder interface {
	Record(v any) error
}

// JournalEntry is what the pipeline records for each entity it synced.
type JournalEntry struct {
	Timestamp int64    `json:"timestamp"`
	Entity    string   `json:"entity"`
	AgentID   string   `json:"agent_id"`
	Narrative string   `json:"narrative,omitempty"`
	Status    string   `json:"status,omitempty"`
	Joined    []string `json:"joined,omitempty"`
	Departed  []string `json:"departed,omitempty"`
}

// EntityResult is the enrichment outcome for one entity.
type EntityResult struct {
	ID         string
	AgentID    string
	State      EntityState
	Diff       Diff
	Transition group.Transition
	Finalized  []string
}

// Cycle is the output of Enrich and the input of Sync.
type Cycle struct {
	Timestamp int64
	At        time.Time
	Entities  []EntityResult

	// Finalized holds removals for NPCs absent from this batch.
	Finalized map[string][]string

	states map[string]EntityState
}

// State returns the enriched state of id in this cycle.
func (c Cycle) State(id string) (EntityState, bool) {
	st, ok := c.states[id]
	return st, ok
}

// SyncReport summarises one Sync call.
type SyncReport struct {
	StatusUpdates  int
	StatusFailures int
	Groups         map[string]group.BatchResult
	Announcements  int
	Errors         []error
}

// Options configures a Pipeline.
type Options struct {
	Resolver *location.Resolver
	Prior    PriorStore
	Tracker  *group.Tracker
	Batcher  *group.Batcher
	Status   *StatusPublisher
	Agents   AgentResolver
	Journal  Recorder
	Metrics  *telemetry.Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline enriches snapshot batches and syncs the result to agent memory.
//
// Enrich runs under one lock: reading the prior generation, driving the
// tracker and replacing the prior generation happen atomically per batch.
// Sync performs collaborator calls outside the lock.
type Pipeline struct {
	mu sync.Mutex

	differ  *Differ
	prior   PriorStore
	tracker *group.Tracker
	batcher *group.Batcher
	status  *StatusPublisher
	agents  AgentResolver
	journal Recorder
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline creates a Pipeline. Prior and Tracker default to fresh
// in-memory instances.
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		differ:  NewDiffer(opts.Resolver),
		prior:   opts.Prior,
		tracker: opts.Tracker,
		batcher: opts.Batcher,
		status:  opts.Status,
		agents:  opts.Agents,
		journal: opts.Journal,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if p.prior == nil {
		p.prior = NewMemoryPriorStore()
	}
	if p.tracker == nil {
		p.tracker = group.NewTracker(group.DefaultGraceTimeout)
	}
	if p.agents == nil {
		p.agents = AgentResolverFunc(func(string) (string, bool) { return "", false })
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "snapshot_pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Tracker returns the membership tracker.
func (p *Pipeline) Tracker() *group.Tracker {
	return p.tracker
}

// Process enriches batch and syncs the result.
func (p *Pipeline) Process(ctx context.Context, batch Batch) SyncReport {
	start := p.now()
	cycle := p.Enrich(batch, start)
	report := p.Sync(ctx, cycle)
	p.metrics.RecordCycle(ctx, len(cycle.Entities), p.now().Sub(start))
	return report
}

// Enrich resolves locations, diffs every entity against the prior generation,
// drives the membership tracker, sweeps expired removals and finally replaces
// the prior generation with this batch.
func (p *Pipeline) Enrich(batch Batch, now time.Time) Cycle {
	p.mu.Lock()
	defer p.mu.Unlock()

	cycle := Cycle{
		Timestamp: batch.Timestamp,
		At:        now,
		states:    make(map[string]EntityState, len(batch.Entities)),
	}

	for _, id := range batch.IDs() {
		cur := batch.Entities[id].clone()

		var prev *EntityState
		if st, ok := p.prior.Get(id); ok {
			prev = &st
		}
		// A batch without group data leaves the last known group in place.
		if cur.Group == nil && prev != nil && prev.Group != nil {
			cur.Group = prev.clone().Group
		}

		d := p.differ.Diff(id, prev, cur)
		if d.LocationName != "" {
			cur.Location = d.LocationName
		}
		if n := d.Narrative(); n != "" {
			cur.RecentInteractions = append(cur.RecentInteractions, Interaction{
				Timestamp: batch.Timestamp,
				Narrative: n,
			})
		}
		cur.NeedsStatusUpdate = d.NeedsStatusUpdate

		res := EntityResult{ID: id, State: cur, Diff: d}
		if agentID, ok := p.agents.AgentID(id); ok {
			res.AgentID = agentID
			if cur.Group != nil {
				res.Transition = p.tracker.Observe(id, cur.Others(id), now)
			}
		}

		cycle.states[id] = cur
		cycle.Entities = append(cycle.Entities, res)
	}

	finalized := p.tracker.Sweep(now)
	for i := range cycle.Entities {
		e := &cycle.Entities[i]
		if list, ok := finalized[e.ID]; ok {
			e.Finalized = list
			delete(finalized, e.ID)
		}
	}
	if len(finalized) > 0 {
		cycle.Finalized = finalized
	}

	p.prior.Replace(cycle.states)

	p.logger.Debug("snapshot enriched",
		"timestamp", batch.Timestamp,
		"entities", len(cycle.Entities))
	return cycle
}

// Sync pushes the cycle's deltas to agent memory. Each entity is isolated;
// a failure is recorded in the report and the rest continue.
func (p *Pipeline) Sync(ctx context.Context, cycle Cycle) SyncReport {
	ctx, span := p.tracer.Start(ctx, "snapshot.sync",
		trace.WithAttributes(
			attribute.Int64("snapshot.timestamp", cycle.Timestamp),
			attribute.Int("snapshot.entities", len(cycle.Entities)),
		))
	defer span.End()

	report := SyncReport{Groups: make(map[string]group.BatchResult)}

	for _, e := range cycle.Entities {
		if e.AgentID == "" {
			p.tracker.Confirm(e.ID, e.Finalized...)
			continue
		}
		p.syncEntity(ctx, cycle, e, &report)
	}

	orphans := make([]string, 0, len(cycle.Finalized))
	for npc := range cycle.Finalized {
		orphans = append(orphans, npc)
	}
	sort.Strings(orphans)
	for _, npc := range orphans {
		agentID, ok := p.agents.AgentID(npc)
		if !ok {
			p.tracker.Confirm(npc, cycle.Finalized[npc]...)
			continue
		}
		p.syncEntity(ctx, cycle, EntityResult{ID: npc, AgentID: agentID, Finalized: cycle.Finalized[npc]}, &report)
	}

	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sync errors", len(report.Errors)))
	}
	return report
}

func (p *Pipeline) syncEntity(ctx context.Context, cycle Cycle, e EntityResult, report *SyncReport) {
	logger := p.logger.With("npc", e.ID, "agent_id", e.AgentID)
	defer func() {
		if r := recover(); r != nil {
			err := worldsync.NewInternalError("Pipeline.Sync", fmt.Errorf("panic: %v", r)).
				WithContext(map[string]any{"npc": e.ID})
			report.Errors = append(report.Errors, err)
			logger.Error("panic syncing entity", "panic", r)
		}
	}()

	entry := JournalEntry{Timestamp: cycle.Timestamp, Entity: e.ID, AgentID: e.AgentID}

	if e.State.NeedsStatusUpdate && p.status != nil {
		entry.Status = StatusText(e.State, e.Diff)
		err := p.status.Publish(ctx, e.AgentID, e.State, e.Diff)
		p.metrics.RecordStatusUpdate(ctx, err == nil)
		if err != nil {
			report.StatusFailures++
			report.Errors = append(report.Errors, err)
		} else {
			report.StatusUpdates++
		}
	}

	if p.batcher != nil {
		updates := make([]group.MemberUpdate, 0, len(e.Transition.Joined)+len(e.Finalized))
		for _, m := range e.Transition.Joined {
			updates = append(updates, p.memberUpdate(cycle, m, true))
		}
		for _, m := range e.Finalized {
			updates = append(updates, p.memberUpdate(cycle, m, false))
		}

		if len(updates) > 0 {
			res := p.batcher.Apply(ctx, e.AgentID, updates)
			report.Groups[e.ID] = res
			failed := len(res.Failed())
			p.metrics.RecordMemberUpdates(ctx, len(res.Members)-failed, failed)
			for _, f := range res.Failed() {
				if f.Err != nil {
					report.Errors = append(report.Errors, f.Err)
				}
			}

			if len(e.Transition.Joined) > 0 {
				if err := p.batcher.Announce(ctx, e.AgentID, e.Transition.Joined, nil); err != nil {
					report.Errors = append(report.Errors, err)
				} else {
					report.Announcements++
				}
			}
			p.confirmDepartures(ctx, e, res, report)
			logger.Info("group membership synced",
				"joined", e.Transition.Joined,
				"finalized", e.Finalized,
				"success", res.Success)
		}
	} else if len(e.Finalized) > 0 {
		p.tracker.Confirm(e.ID, e.Finalized...)
	}

	entry.Narrative = e.Diff.Narrative()
	entry.Joined = e.Transition.Joined
	entry.Departed = e.Finalized
	p.record(entry, logger)
}

// confirmDepartures announces each finalized member whose upsert succeeded
// and acknowledges it in the tracker. Anything that failed stays finalizing
// and is retried on the next cycle.
func (p *Pipeline) confirmDepartures(ctx context.Context, e EntityResult, res group.BatchResult, report *SyncReport) {
	if len(e.Finalized) == 0 {
		return
	}
	upserted := make(map[string]bool, len(res.Members))
	for _, m := range res.Members {
		if m.Success {
			upserted[m.MemberID] = true
		}
	}

	var done []string
	for _, m := range e.Finalized {
		if !upserted[m] {
			continue
		}
		if err := p.batcher.Announce(ctx, e.AgentID, nil, []string{m}); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Announcements++
		done = append(done, m)
	}
	if len(done) > 0 {
		p.tracker.Confirm(e.ID, done...)
	}
	if pending := len(e.Finalized) - len(done); pending > 0 {
		p.logger.Warn("group departures not synced, retrying next cycle",
			"npc", e.ID,
			"pending", pending)
	}
}

func (p *Pipeline) memberUpdate(cycle Cycle, member string, joining bool) group.MemberUpdate {
	u := group.MemberUpdate{MemberID: member, Name: member, IsJoining: joining}
	if st, ok := cycle.states[member]; ok {
		if st.Health != nil {
			u.Health = &group.HealthData{Current: st.Health.Current, Max: st.Health.Max}
		}
		u.Location = st.Location
	}
	return u
}

func (p *Pipeline) record(entry JournalEntry, logger *slog.Logger) {
	if p.journal == nil {
		return
	}
	if entry.Narrative == "" && entry.Status == "" && len(entry.Joined) == 0 && len(entry.Departed) == 0 {
		return
	}
	if err := p.journal.Record(entry); err != nil {
		logger.Warn("journal write failed", "error", err)
	}
}
