package conversation

import "time"

// Type is the kind of conversation.
type Type string

const (
	TypeNPCUser Type = "npc_user"
	TypeNPCNPC  Type = "npc_npc"
	TypeGroup   Type = "group"
)

// Valid reports whether t is a supported conversation type.
func (t Type) Valid() bool {
	switch t {
	case TypeNPCUser, TypeNPCNPC, TypeGroup:
		return true
	}
	return false
}

// ParticipantKind distinguishes NPCs from players.
type ParticipantKind string

const (
	KindNPC    ParticipantKind = "npc"
	KindPlayer ParticipantKind = "player"
)

// Participant is one side of a conversation.
type Participant struct {
	ID   string          `json:"id"`
	Kind ParticipantKind `json:"type"`
	Name string          `json:"name"`
}

// Message is one line spoken in a session.
type Message struct {
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is an active conversation.
type Session struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	Participants map[string]Participant `json:"participants"`
	Messages     []Message              `json:"messages"`
	CreatedAt    time.Time              `json:"created_at"`
	LastUpdate   time.Time              `json:"last_update"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// clone returns a deep copy safe to hand out of the manager lock.
func (s *Session) clone() *Session {
	out := *s
	out.Participants = make(map[string]Participant, len(s.Participants))
	for k, v := range s.Participants {
		out.Participants[k] = v
	}
	out.Messages = append([]Message(nil), s.Messages...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Has reports whether id participates in the session.
func (s *Session) Has(id string) bool {
	_, ok := s.Participants[id]
	return ok
}

// Context is the metadata view of a session.
type Context struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	Participants map[string]Participant `json:"participants"`
	CreatedAt    time.Time              `json:"created_at"`
	LastUpdate   time.Time              `json:"last_update"`
	MessageCount int                    `json:"message_count"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// Metrics are the manager's lifetime counters.
type Metrics struct {
	TotalConversations     int64   `json:"total_conversations"`
	ActiveConversations    int64   `json:"active_conversations"`
	CompletedConversations int64   `json:"completed_conversations"`
	ExpiredConversations   int64   `json:"expired_conversations"`
	TotalMessages          int64   `json:"total_messages"`
	AverageResponseTime    float64 `json:"average_response_time"`
	ResponseSamples        int64   `json:"response_samples"`
}
