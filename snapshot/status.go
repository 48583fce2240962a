package snapshot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/memory"
)

// StatusPublisher writes the NPC's status block.
type StatusPublisher struct {
	svc     memory.Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatusPublisher creates a publisher. timeout bounds each UpdateBlock call.
func NewStatusPublisher(svc memory.Service, timeout time.Duration, logger *slog.Logger) *StatusPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPublisher{
		svc:     svc,
		timeout: timeout,
		logger:  logger.With("component", "status_publisher"),
	}
}

// StatusText renders the status block, e.g.
// "Location: Chipotle | Status: Injured | Group: With 2 others | Recent: Walking".
func StatusText(st EntityState, d Diff) string {
	loc := d.LocationName
	if loc == "" {
		loc = st.Location
	}
	if loc == "" {
		loc = "Unknown"
	}
	parts := []string{
		"Location: " + loc,
		"Status: " + d.ActionLabel,
		"Group: " + d.GroupSummary,
	}
	if n := d.Narrative(); n != "" {
		parts = append(parts, "Recent: "+n)
	}
	return strings.Join(parts, ClauseSeparator)
}

// Publish pushes the status block for agentID.
func (p *StatusPublisher) Publish(ctx context.Context, agentID string, st EntityState, d Diff) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text := StatusText(st, d)
	res, err := p.svc.UpdateBlock(ctx, agentID, memory.BlockStatus, text)
	if err != nil {
		p.logger.Error("status update failed", "agent_id", agentID, "error", err)
		return worldsync.NewCollaboratorError("StatusPublisher.Publish", err).
			WithContext(map[string]any{"agent_id": agentID})
	}
	if !res.Success {
		p.logger.Warn("status update rejected", "agent_id", agentID, "message", res.Message)
		return worldsync.NewCollaboratorError("StatusPublisher.Publish", errStatusRejected)
	}
	p.logger.Debug("status updated", "agent_id", agentID, "status", text)
	return nil
}
