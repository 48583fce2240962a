package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/worldsync/llm"
	"github.com/zero-day-ai/worldsync/memory"
	"github.com/zero-day-ai/worldsync/queue"
)

// mockMemory answers SendMessage through sendFunc and records every call.
type mockMemory struct {
	mu       sync.Mutex
	agents   []string
	messages []memory.Message
	sendFunc func(agentID string, msg memory.Message) (memory.Reply, error)
}

func (m *mockMemory) GetBlock(context.Context, string, string) (memory.Block, error) {
	return memory.Block{}, memory.ErrNotFound
}

func (m *mockMemory) UpdateBlock(context.Context, string, string, string) (memory.Result, error) {
	return memory.Result{Success: true}, nil
}

func (m *mockMemory) UpsertMember(context.Context, string, memory.Member) (memory.Result, error) {
	return memory.Result{Success: true}, nil
}

func (m *mockMemory) SendMessage(_ context.Context, agentID string, msg memory.Message) (memory.Reply, error) {
	m.mu.Lock()
	m.agents = append(m.agents, agentID)
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(agentID, msg)
	}
	return memory.Reply{Text: "ok", Action: memory.Action{Type: memory.ActionNone}}, nil
}

type agentMap map[string]string

func (a agentMap) AgentID(id string) (string, bool) {
	v, ok := a[id]
	return v, ok
}

// scriptedCompleter replies with the queued contents in order and records requests.
type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	requests []*llm.CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.CompletionResponse{Content: out, FinishReason: "stop"}, nil
}

func chatItem(msg string) queue.ChatItem {
	return queue.ChatItem{
		NPCID:   "npc-1",
		Message: msg,
		Context: queue.ChatContext{
			ParticipantID:   "player-1",
			ParticipantName: "Kaiden",
			NPCName:         "Diamond",
		},
	}
}

func TestChat_LLMConversation(t *testing.T) {
	c := &scriptedCompleter{replies: []string{
		`{"message":"Hi Kaiden!","action":{"type":"none"}}`,
		`{"message":"Sure, lead on.","action":{"type":"follow","data":{"target":"player-1"}}}`,
	}}
	chat := NewChat(ChatOptions{Responder: llm.NewResponder(c, nil)})
	ctx := context.Background()

	first := chat.Handle(ctx, chatItem("hello"))
	assert.Equal(t, "Hi Kaiden!", first.Message)
	assert.Equal(t, llm.ActionNone, first.Action)
	assert.Equal(t, ResponderLLM, first.Responder)
	require.NotEmpty(t, first.SessionID)

	second := chat.Handle(ctx, chatItem("follow me"))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, llm.ActionFollow, second.Action)
	assert.Equal(t, "player-1", second.ActionData["target"])

	require.Len(t, c.requests, 2)
	req := c.requests[1]
	assert.Contains(t, req.System, "Diamond")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Kaiden", req.Messages[0].Name)
	assert.Equal(t, llm.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "Hi Kaiden!", req.Messages[1].Content)
	assert.Equal(t, "follow me", req.Messages[2].Content)

	assert.Len(t, chat.Manager().History(first.SessionID, 0), 4)
}

func TestChat_StopTalkingEndsSession(t *testing.T) {
	c := &scriptedCompleter{replies: []string{
		`{"message":"Goodbye.","action":{"type":"stop_talking"}}`,
	}}
	chat := NewChat(ChatOptions{Responder: llm.NewResponder(c, nil)})

	reply := chat.Handle(context.Background(), chatItem("bye"))
	assert.True(t, reply.Ended)
	assert.Equal(t, llm.ActionStopTalking, reply.Action)

	_, ok := chat.Manager().Get(reply.SessionID)
	assert.False(t, ok)
	m := chat.Manager().Metrics()
	assert.Equal(t, int64(1), m.CompletedConversations)
	assert.Equal(t, int64(0), m.ActiveConversations)
}

func TestChat_AgentBackedNPC(t *testing.T) {
	mem := &mockMemory{sendFunc: func(string, memory.Message) (memory.Reply, error) {
		return memory.Reply{
			Text:   "I'll come with you.",
			Action: memory.Action{Type: memory.ActionFollow, Data: map[string]any{"target": "player-1"}},
		}, nil
	}}
	c := &scriptedCompleter{}
	chat := NewChat(ChatOptions{
		Memory:    mem,
		Agents:    agentMap{"npc-1": "agent-7"},
		Responder: llm.NewResponder(c, nil),
	})

	reply := chat.Handle(context.Background(), chatItem("come along"))
	assert.Equal(t, "I'll come with you.", reply.Message)
	assert.Equal(t, llm.ActionFollow, reply.Action)
	assert.Equal(t, ResponderAgent, reply.Responder)

	require.Len(t, mem.messages, 1)
	assert.Equal(t, []string{"agent-7"}, mem.agents)
	assert.Equal(t, memory.RoleUser, mem.messages[0].Role)
	assert.Equal(t, "Kaiden", mem.messages[0].Name)
	assert.Equal(t, "come along", mem.messages[0].Content)
	assert.Empty(t, c.requests)
}

func TestChat_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		opts    func() ChatOptions
		item    queue.ChatItem
		wantMsg string
	}{
		{
			name: "agent failure",
			opts: func() ChatOptions {
				return ChatOptions{
					Memory: &mockMemory{sendFunc: func(string, memory.Message) (memory.Reply, error) {
						return memory.Reply{}, errors.New("connection refused")
					}},
					Agents: agentMap{"npc-1": "agent-7"},
				}
			},
			item:    chatItem("hello"),
			wantMsg: llm.FailureReply,
		},
		{
			name: "agent without text",
			opts: func() ChatOptions {
				return ChatOptions{
					Memory: &mockMemory{sendFunc: func(string, memory.Message) (memory.Reply, error) {
						return memory.Reply{}, nil
					}},
					Agents: agentMap{"npc-1": "agent-7"},
				}
			},
			item:    chatItem("hello"),
			wantMsg: llm.FailureReply,
		},
		{
			name:    "llm failure",
			opts:    func() ChatOptions { return ChatOptions{Responder: llm.NewResponder(&scriptedCompleter{}, nil)} },
			item:    chatItem("hello"),
			wantMsg: llm.FailureReply,
		},
		{
			name:    "no responder",
			opts:    func() ChatOptions { return ChatOptions{} },
			item:    chatItem("hello"),
			wantMsg: llm.FailureReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := NewChat(tt.opts())
			reply := chat.Handle(context.Background(), tt.item)
			assert.Equal(t, tt.wantMsg, reply.Message)
			assert.Equal(t, llm.ActionNone, reply.Action)
			assert.False(t, reply.Ended)
			assert.Len(t, chat.Manager().History(reply.SessionID, 0), 2)
		})
	}
}

func TestChat_UnsupportedConversationType(t *testing.T) {
	chat := NewChat(ChatOptions{Responder: llm.NewResponder(&scriptedCompleter{}, nil)})

	item := chatItem("hello")
	item.Context.ConversationType = "broadcast"
	reply := chat.Handle(context.Background(), item)

	assert.Equal(t, llm.FailureReply, reply.Message)
	assert.Equal(t, ResponderFallback, reply.Responder)
	assert.Empty(t, reply.SessionID)
	assert.Equal(t, Metrics{}, chat.Manager().Metrics())
}

func TestChat_ExplicitConversationAndMetadata(t *testing.T) {
	m := NewManager()
	s, err := m.Create(TypeNPCUser,
		Participant{ID: "player-1", Kind: KindPlayer},
		Participant{ID: "npc-1", Kind: KindNPC})
	require.NoError(t, err)

	c := &scriptedCompleter{replies: []string{`{"message":"Welcome back.","action":{"type":"none"}}`}}
	chat := NewChat(ChatOptions{Manager: m, Responder: llm.NewResponder(c, nil)})

	item := chatItem("it's me again")
	item.Context.ConversationID = s.ID
	item.Context.Extra = map[string]string{"quest": "lost-ring"}
	item.Context.SystemPrompt = "You are a tavern keeper."
	reply := chat.Handle(context.Background(), item)

	assert.Equal(t, s.ID, reply.SessionID)
	ctx, ok := m.Context(s.ID)
	require.True(t, ok)
	assert.Equal(t, "lost-ring", ctx.Metadata["quest"])
	assert.Equal(t, 2, ctx.MessageCount)
	require.Len(t, c.requests, 1)
	assert.Equal(t, "You are a tavern keeper.", c.requests[0].System)
	assert.Equal(t, int64(1), m.Metrics().TotalConversations)
}

func TestChat_NPCToNPC(t *testing.T) {
	c := &scriptedCompleter{replies: []string{`{"message":"Greetings, friend.","action":{"type":"none"}}`}}
	chat := NewChat(ChatOptions{Responder: llm.NewResponder(c, nil)})

	item := chatItem("hail")
	item.Context.ParticipantID = "npc-2"
	item.Context.ParticipantType = "npc"
	reply := chat.Handle(context.Background(), item)

	s, ok := chat.Manager().Get(reply.SessionID)
	require.True(t, ok)
	assert.Equal(t, TypeNPCNPC, s.Type)
	assert.Equal(t, KindNPC, s.Participants["npc-2"].Kind)
}

func TestReply_Queue(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := Reply{SessionID: "s1", Message: "hi", Action: llm.ActionStopTalking, Ended: true}

	got := r.Queue(chatItem("bye"), now)
	assert.Equal(t, queue.Reply{
		NPCID:          "npc-1",
		ParticipantID:  "player-1",
		ConversationID: "s1",
		Message:        "hi",
		Action:         llm.ActionStopTalking,
		Ended:          true,
		Timestamp:      1_700_000_000_000,
	}, got)
}

func TestChat_ConcurrentFirstMessagesShareSession(t *testing.T) {
	ids := sequentialIDs()
	slowIDs := func() string {
		time.Sleep(20 * time.Millisecond)
		return ids()
	}
	c := &scriptedCompleter{}
	for i := 0; i < 4; i++ {
		c.replies = append(c.replies, `{"message":"Hello there.","action":{"type":"none"}}`)
	}
	m := NewManager(WithIDGenerator(slowIDs))
	chat := NewChat(ChatOptions{Manager: m, Responder: llm.NewResponder(c, nil)})

	var wg sync.WaitGroup
	replies := make([]Reply, 4)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = chat.Handle(context.Background(), chatItem("hi"))
		}(i)
	}
	wg.Wait()

	for _, r := range replies {
		assert.Equal(t, replies[0].SessionID, r.SessionID)
	}
	assert.Len(t, m.ActiveFor("player-1"), 1)
	assert.Equal(t, int64(1), m.Metrics().TotalConversations)
	assert.Len(t, m.History(replies[0].SessionID, 0), 8)
}
