package memory

import (
	"context"
	"errors"
)

// Common errors returned by memory operations.
var (
	// ErrNotFound is returned when an agent or block does not exist.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidAgent is returned when an agent id is empty.
	ErrInvalidAgent = errors.New("memory: invalid agent id")

	// ErrInvalidMember is returned when a member record has no id.
	ErrInvalidMember = errors.New("memory: invalid member")

	// ErrServiceFailed is returned when the memory service could not be reached
	// or answered with an error status.
	ErrServiceFailed = errors.New("memory: service call failed")
)

// Well-known block labels.
const (
	BlockStatus       = "status"
	BlockGroupMembers = "group_members"
	BlockPersona      = "persona"
)

// Service is the agent-memory collaborator.
//
// Implementations must be safe for concurrent use. Calls are expected to
// honour ctx deadlines; the pipeline wraps each call in its own timeout.
type Service interface {
	// GetBlock returns the block with the given label.
	// Returns ErrNotFound if the agent or block does not exist.
	GetBlock(ctx context.Context, agentID, label string) (Block, error)

	// UpdateBlock overwrites the value of a labelled block.
	UpdateBlock(ctx context.Context, agentID, label, value string) (Result, error)

	// UpsertMember inserts or replaces one member in the agent's group block.
	UpsertMember(ctx context.Context, agentID string, member Member) (Result, error)

	// SendMessage delivers msg to the agent and returns its reply.
	SendMessage(ctx context.Context, agentID string, msg Message) (Reply, error)
}
