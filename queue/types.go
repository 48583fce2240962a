package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/snapshot"
)

// Kind names the variant carried by an Item.
type Kind string

const (
	KindChat     Kind = "chat"
	KindSnapshot Kind = "snapshot"
)

// Item is a unit of work accepted by the ingestion queue.
type Item interface {
	Kind() Kind
	Validate() error
}

// ChatContext carries the conversation metadata sent alongside a chat message.
type ChatContext struct {
	ParticipantID    string            `json:"participant_id,omitempty"`
	ParticipantName  string            `json:"participant_name,omitempty"`
	ParticipantType  string            `json:"participant_type,omitempty"`
	NPCName          string            `json:"npc_name,omitempty"`
	SystemPrompt     string            `json:"system_prompt,omitempty"`
	ConversationType string            `json:"conversation_type,omitempty"`
	ConversationID   string            `json:"conversation_id,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ChatItem is a message addressed to an NPC.
type ChatItem struct {
	NPCID     string      `json:"npc_id"`
	Message   string      `json:"message"`
	Context   ChatContext `json:"context"`
	Timestamp int64       `json:"timestamp"`
}

// Kind implements Item.
func (ChatItem) Kind() Kind { return KindChat }

// Validate requires a target NPC, a non-blank message and a sender.
func (c ChatItem) Validate() error {
	switch {
	case c.NPCID == "":
		return rejected("ChatItem.Validate", "npc_id is required")
	case strings.TrimSpace(c.Message) == "":
		return rejected("ChatItem.Validate", "message is empty")
	case c.Context.ParticipantID == "":
		return rejected("ChatItem.Validate", "context.participant_id is required")
	case c.Context.ParticipantID == c.NPCID:
		return rejected("ChatItem.Validate", "an npc cannot chat with itself")
	case c.Timestamp < 0:
		return rejected("ChatItem.Validate", "timestamp must not be negative")
	}
	return nil
}

// SnapshotItem wraps one world snapshot. On the wire it is the bare batch.
type SnapshotItem struct {
	Batch snapshot.Batch
}

// MarshalJSON encodes the batch.
func (s SnapshotItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Batch)
}

// UnmarshalJSON decodes a bare batch.
func (s *SnapshotItem) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.Batch)
}

// Kind implements Item.
func (SnapshotItem) Kind() Kind { return KindSnapshot }

// Validate delegates to snapshot.Batch.Validate.
func (s SnapshotItem) Validate() error {
	return s.Batch.Validate()
}

// Reply is the answer to a ChatItem as published back to the game server.
type Reply struct {
	NPCID          string         `json:"npc_id"`
	ParticipantID  string         `json:"participant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Message        string         `json:"message"`
	Action         string         `json:"action"`
	ActionData     map[string]any `json:"action_data,omitempty"`
	Ended          bool           `json:"ended,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}

// Envelope is the wire form of an Item.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps item in an envelope.
func Encode(item Item) ([]byte, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s item: %w", item.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: item.Kind(), Payload: payload})
}

// Decode parses an envelope and returns the item it carries. Items are not
// validated here; Ingestion does that on enqueue.
func Decode(data []byte) (Item, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, rejected("queue.Decode", "envelope is not valid JSON: "+err.Error())
	}
	switch env.Kind {
	case KindChat:
		var c ChatItem
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, rejected("queue.Decode", "chat payload: "+err.Error())
		}
		return c, nil
	case KindSnapshot:
		var s SnapshotItem
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, rejected("queue.Decode", "snapshot payload: "+err.Error())
		}
		return s, nil
	default:
		return nil, worldsync.NewValidationError("queue.Decode",
			fmt.Errorf("%w: item kind %q", worldsync.ErrUnsupportedType, env.Kind))
	}
}

func rejected(op, msg string) error {
	return worldsync.NewValidationError(op, fmt.Errorf("%w: %s", worldsync.ErrMalformedItem, msg))
}
