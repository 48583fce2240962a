package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/worldsync/llm"
	"github.com/zero-day-ai/worldsync/memory"
	"github.com/zero-day-ai/worldsync/queue"
	"github.com/zero-day-ai/worldsync/telemetry"
)

const (
	// DefaultHistoryLimit caps how many prior lines are sent to the model.
	DefaultHistoryLimit = 20

	// DefaultCallTimeout bounds one responder call.
	DefaultCallTimeout = 30 * time.Second

	defaultPersona = "You are %s, a character living in this world. Stay in character, " +
		"speak naturally and keep replies to one or two sentences."
)

// Responder names reported in Reply.Responder and chat metrics.
const (
	ResponderAgent    = "agent"
	ResponderLLM      = "llm"
	ResponderFallback = "fallback"
)

// AgentLookup maps an NPC id to the memory agent backing it.
type AgentLookup interface {
	AgentID(entityID string) (string, bool)
}

// ChatOptions wires a Chat handler.
type ChatOptions struct {
	Manager *Manager

	// Memory and Agents route NPCs that have an agent through SendMessage.
	Memory memory.Service
	Agents AgentLookup

	// Responder answers for NPCs without an agent.
	Responder *llm.Responder

	HistoryLimit int
	CallTimeout  time.Duration
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

// Reply is the NPC's answer to one chat item.
type Reply struct {
	SessionID  string
	Message    string
	Action     string
	ActionData map[string]any
	Responder  string
	Ended      bool
}

// Queue converts r into the wire reply for item.
func (r Reply) Queue(item queue.ChatItem, now time.Time) queue.Reply {
	return queue.Reply{
		NPCID:          item.NPCID,
		ParticipantID:  item.Context.ParticipantID,
		ConversationID: r.SessionID,
		Message:        r.Message,
		Action:         r.Action,
		ActionData:     r.ActionData,
		Ended:          r.Ended,
		Timestamp:      now.UnixMilli(),
	}
}

// Chat answers chat items on behalf of NPCs.
type Chat struct {
	manager   *Manager
	memory    memory.Service
	agents    AgentLookup
	responder *llm.Responder
	limit     int
	timeout   time.Duration
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewChat returns a Chat. A nil Manager gets a fresh one.
func NewChat(opts ChatOptions) *Chat {
	if opts.Manager == nil {
		opts.Manager = NewManager(WithLogger(opts.Logger))
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chat{
		manager:   opts.Manager,
		memory:    opts.Memory,
		agents:    opts.Agents,
		responder: opts.Responder,
		limit:     opts.HistoryLimit,
		timeout:   opts.CallTimeout,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "chat"),
	}
}

// Manager returns the session registry.
func (c *Chat) Manager() *Manager {
	return c.manager
}

// Handle records the incoming line, produces the NPC's answer and records it.
// It never fails: collaborator errors degrade to a fallback line.
func (c *Chat) Handle(ctx context.Context, item queue.ChatItem) Reply {
	logger := c.logger.With("npc", item.NPCID, "participant", item.Context.ParticipantID)

	session, err := c.session(item)
	if err != nil {
		logger.Warn("cannot open conversation", "error", err)
		c.metrics.RecordChat(ctx, ResponderFallback, false)
		return Reply{Message: llm.FailureReply, Action: llm.ActionNone, Responder: ResponderFallback}
	}
	logger = logger.With("session_id", session.ID)

	for k, v := range item.Context.Extra {
		c.manager.SetMetadata(session.ID, k, v)
	}
	c.manager.Append(session.ID, item.Context.ParticipantID, item.Message)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	reply, ok := c.respond(callCtx, logger, session, item)
	cancel()
	reply.SessionID = session.ID

	c.manager.Append(session.ID, item.NPCID, reply.Message)
	if reply.Action == llm.ActionStopTalking {
		reply.Ended = c.manager.End(session.ID)
		logger.Info("conversation ended by npc")
	}

	c.metrics.RecordChat(ctx, reply.Responder, ok)
	return reply
}

// session returns the conversation for the item, opening one if needed.
func (c *Chat) session(item queue.ChatItem) (*Session, error) {
	npc, participant := item.NPCID, item.Context.ParticipantID

	if id := item.Context.ConversationID; id != "" {
		if s, ok := c.manager.Get(id); ok && s.Has(npc) && s.Has(participant) {
			return s, nil
		}
	}
	kind := KindPlayer
	if ParticipantKind(item.Context.ParticipantType) == KindNPC {
		kind = KindNPC
	}
	typ := Type(item.Context.ConversationType)
	if typ == "" {
		typ = TypeNPCUser
		if kind == KindNPC {
			typ = TypeNPCNPC
		}
	}

	s, _, err := c.manager.Open(typ,
		Participant{ID: participant, Kind: kind, Name: item.Context.ParticipantName},
		Participant{ID: npc, Kind: KindNPC, Name: item.Context.NPCName},
	)
	return s, err
}

func (c *Chat) respond(ctx context.Context, logger *slog.Logger, s *Session, item queue.ChatItem) (Reply, bool) {
	if c.memory != nil && c.agents != nil {
		if agentID, ok := c.agents.AgentID(item.NPCID); ok {
			return c.respondAgent(ctx, logger, agentID, item)
		}
	}
	if c.responder != nil {
		return c.respondLLM(ctx, s, item), true
	}
	logger.Warn("no responder available")
	return Reply{Message: llm.FailureReply, Action: llm.ActionNone, Responder: ResponderFallback}, false
}

func (c *Chat) respondAgent(ctx context.Context, logger *slog.Logger, agentID string, item queue.ChatItem) (Reply, bool) {
	name := item.Context.ParticipantName
	if name == "" {
		name = "Entity_" + item.Context.ParticipantID
	}
	out, err := c.memory.SendMessage(ctx, agentID, memory.Message{
		Role:    memory.RoleUser,
		Content: item.Message,
		Name:    name,
	})
	if err != nil {
		logger.Error("agent message failed", "agent", agentID, "error", err)
		return Reply{Message: llm.FailureReply, Action: llm.ActionNone, Responder: ResponderAgent}, false
	}

	reply := Reply{
		Message:    out.Text,
		Action:     out.Action.Type,
		ActionData: out.Action.Data,
		Responder:  ResponderAgent,
	}
	if reply.Action == "" {
		reply.Action = llm.ActionNone
	}
	if !out.HasText() {
		logger.Warn("agent returned no text", "agent", agentID, "tool_calls", len(out.ToolCalls))
		reply.Message = llm.FailureReply
		return reply, false
	}
	return reply, true
}

func (c *Chat) respondLLM(ctx context.Context, s *Session, item queue.ChatItem) Reply {
	system := item.Context.SystemPrompt
	if system == "" {
		name := item.Context.NPCName
		if name == "" {
			name = s.Participants[item.NPCID].Name
		}
		system = fmt.Sprintf(defaultPersona, name)
	}

	history := c.manager.History(s.ID, c.limit)
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.SenderID == item.NPCID {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleUser,
			Content: m.Content,
			Name:    s.Participants[m.SenderID].Name,
		})
	}

	out := c.responder.Respond(ctx, system, msgs)
	return Reply{
		Message:    out.Message,
		Action:     out.Action.Type,
		ActionData: out.Action.Data,
		Responder:  ResponderLLM,
	}
}
