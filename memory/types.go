package memory

import (
	"encoding/json"
	"strconv"
	"time"
)

// Block is a labelled piece of an agent's core memory.
type Block struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Limit int    `json:"limit,omitempty"`
}

// Result is the outcome of a mutating memory call.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Member is one entry in an NPC's group block.
type Member struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Appearance   string     `json:"appearance"`
	HealthStatus string     `json:"health_status"`
	Location     string     `json:"location,omitempty"`
	IsPresent    bool       `json:"is_present"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// GroupBlock is the JSON document stored in the group_members block.
type GroupBlock struct {
	Members     map[string]Member `json:"members"`
	Summary     string            `json:"summary"`
	Updates     []string          `json:"updates"`
	LastUpdated time.Time         `json:"last_updated"`
}

// maxGroupUpdates bounds the rolling update log kept in the group block.
const maxGroupUpdates = 10

// Role identifies who a message to the agent comes from.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Message is sent to an agent.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name optionally identifies the speaker (player or NPC display name).
	Name string `json:"name,omitempty"`
}

// Action is the structured action an agent picked while replying.
type Action struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// ToolCall is a raw tool invocation reported by the agent.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Reply is the agent's answer to SendMessage.
type Reply struct {
	Text      string     `json:"text"`
	Action    Action     `json:"action"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Thoughts  []string   `json:"thoughts,omitempty"`
}

// HasText reports whether the agent produced a spoken reply.
func (r Reply) HasText() bool {
	return r.Text != ""
}

// Apply merges m into the block, records update in the rolling log and
// refreshes the summary. The block is initialised if empty.
func (g *GroupBlock) Apply(m Member, update string, now time.Time) {
	if g.Members == nil {
		g.Members = make(map[string]Member)
	}
	g.Members[m.ID] = m
	if update != "" {
		g.Updates = append(g.Updates, update)
		if len(g.Updates) > maxGroupUpdates {
			g.Updates = g.Updates[len(g.Updates)-maxGroupUpdates:]
		}
	}
	g.LastUpdated = now
	g.Summary = g.summarize()
}

// Present returns the number of members currently marked present.
func (g *GroupBlock) Present() int {
	n := 0
	for _, m := range g.Members {
		if m.IsPresent {
			n++
		}
	}
	return n
}

func (g *GroupBlock) summarize() string {
	switch n := g.Present(); n {
	case 0:
		return "Alone"
	case 1:
		return "With 1 other"
	default:
		return "With " + strconv.Itoa(n) + " others"
	}
}
