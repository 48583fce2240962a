package group

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/memory"
)

// mockMemory records calls and delegates to optional func fields.
type mockMemory struct {
	mu       sync.Mutex
	upserts  []memory.Member
	messages []memory.Message

	upsertFunc func(agentID string, m memory.Member) (memory.Result, error)
	sendFunc   func(agentID string, msg memory.Message) (memory.Reply, error)
}

func (m *mockMemory) GetBlock(context.Context, string, string) (memory.Block, error) {
	return memory.Block{}, memory.ErrNotFound
}

func (m *mockMemory) UpdateBlock(context.Context, string, string, string) (memory.Result, error) {
	return memory.Result{Success: true}, nil
}

func (m *mockMemory) UpsertMember(_ context.Context, agentID string, member memory.Member) (memory.Result, error) {
	m.mu.Lock()
	m.upserts = append(m.upserts, member)
	m.mu.Unlock()
	if m.upsertFunc != nil {
		return m.upsertFunc(agentID, member)
	}
	return memory.Result{Success: true, Message: "ok"}, nil
}

func (m *mockMemory) SendMessage(_ context.Context, agentID string, msg memory.Message) (memory.Reply, error) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(agentID, msg)
	}
	return memory.Reply{}, nil
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name string
		h    *HealthData
		want string
	}{
		{"no data", nil, StatusHealthy},
		{"full", &HealthData{Current: 100, Max: 100}, StatusHealthy},
		{"76 percent", &HealthData{Current: 76, Max: 100}, StatusHealthy},
		{"75 percent", &HealthData{Current: 75, Max: 100}, StatusInjured},
		{"26 percent", &HealthData{Current: 26, Max: 100}, StatusInjured},
		{"25 percent", &HealthData{Current: 25, Max: 100}, StatusCritical},
		{"zero", &HealthData{Current: 0, Max: 100}, StatusDead},
		{"negative", &HealthData{Current: -5, Max: 100}, StatusDead},
		{"zero max", &HealthData{Current: 10, Max: 0}, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HealthStatus(tt.h))
		})
	}
}

func TestBatcher_Apply(t *testing.T) {
	svc := &mockMemory{}
	appearance := AppearanceFunc(func(_ context.Context, id string) (string, error) {
		if id == "PlayerA" {
			return "Tall, red cape", nil
		}
		return "", fmt.Errorf("appearance %s: %w", id, worldsync.ErrNotFound)
	})
	b := NewBatcher(svc, appearance, WithClock(func() time.Time { return t0 }))

	res := b.Apply(context.Background(), "agent-oz", []MemberUpdate{
		{MemberID: "PlayerA", Name: "Alice", IsJoining: true, Health: &HealthData{Current: 20, Max: 100}, Location: "Chipotle"},
		{MemberID: "PlayerB", IsJoining: false},
	})

	require.True(t, res.Success)
	require.Len(t, res.Members, 2)
	assert.Empty(t, res.Failed())

	require.Len(t, svc.upserts, 2)
	joined, left := svc.upserts[0], svc.upserts[1]

	assert.Equal(t, "Alice", joined.Name)
	assert.Equal(t, "Tall, red cape", joined.Appearance)
	assert.Equal(t, StatusCritical, joined.HealthStatus)
	assert.True(t, joined.IsPresent)
	assert.Nil(t, joined.LastSeen)
	assert.Equal(t, "Chipotle", joined.Location)

	assert.Equal(t, "PlayerB", left.Name)
	assert.Equal(t, NoAppearance, left.Appearance)
	assert.Equal(t, StatusHealthy, left.HealthStatus)
	assert.False(t, left.IsPresent)
	require.NotNil(t, left.LastSeen)
	assert.Equal(t, t0, *left.LastSeen)
}

func TestBatcher_PartialFailure(t *testing.T) {
	svc := &mockMemory{
		upsertFunc: func(_ string, m memory.Member) (memory.Result, error) {
			switch m.ID {
			case "bad":
				return memory.Result{}, errors.New("connection refused")
			case "rejected":
				return memory.Result{Success: false, Message: "block full"}, nil
			}
			return memory.Result{Success: true}, nil
		},
	}
	b := NewBatcher(svc, nil)

	res := b.Apply(context.Background(), "agent", []MemberUpdate{
		{MemberID: "bad", IsJoining: true},
		{MemberID: "good", IsJoining: true},
		{MemberID: "rejected", IsJoining: true},
	})

	assert.True(t, res.Success, "one success is enough")
	require.Len(t, res.Members, 3, "every member attempted")
	failed := res.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, worldsync.KindCollaborator, worldsync.KindOf(failed[0].Err))
	assert.Equal(t, "block full", failed[1].Message)
}

func TestBatcher_AllFail(t *testing.T) {
	svc := &mockMemory{
		upsertFunc: func(string, memory.Member) (memory.Result, error) {
			return memory.Result{}, memory.ErrServiceFailed
		},
	}
	res := NewBatcher(svc, nil).Apply(context.Background(), "agent", []MemberUpdate{{MemberID: "a"}, {MemberID: "b"}})
	assert.False(t, res.Success)
	assert.Len(t, res.Failed(), 2)
}

func TestBatcher_PanicIsolated(t *testing.T) {
	svc := &mockMemory{
		upsertFunc: func(_ string, m memory.Member) (memory.Result, error) {
			if m.ID == "boom" {
				panic("nil map")
			}
			return memory.Result{Success: true}, nil
		},
	}
	res := NewBatcher(svc, nil).Apply(context.Background(), "agent", []MemberUpdate{{MemberID: "boom"}, {MemberID: "ok"}})
	assert.True(t, res.Success)
	assert.Equal(t, worldsync.KindInternal, worldsync.KindOf(res.Members[0].Err))
}

func TestBatcher_CallTimeout(t *testing.T) {
	var deadline time.Time
	svc := &mockMemory{}
	svc.upsertFunc = func(string, memory.Member) (memory.Result, error) {
		return memory.Result{Success: true}, nil
	}
	b := NewBatcher(&deadlineMemory{mockMemory: svc, seen: &deadline}, nil, WithCallTimeout(2*time.Second))

	start := time.Now()
	b.Apply(context.Background(), "agent", []MemberUpdate{{MemberID: "a"}})
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, start.Add(2*time.Second), deadline, time.Second)
}

type deadlineMemory struct {
	*mockMemory
	seen *time.Time
}

func (d *deadlineMemory) UpsertMember(ctx context.Context, agentID string, m memory.Member) (memory.Result, error) {
	*d.seen, _ = ctx.Deadline()
	return d.mockMemory.UpsertMember(ctx, agentID, m)
}

func TestBatcher_Announce(t *testing.T) {
	svc := &mockMemory{}
	b := NewBatcher(svc, nil)

	require.NoError(t, b.Announce(context.Background(), "agent", []string{"Alice", "Bob"}, []string{"Carol"}))
	require.Len(t, svc.messages, 2)
	assert.Equal(t, "[SYSTEM] New group members have joined: Alice, Bob", svc.messages[0].Content)
	assert.Equal(t, "[SYSTEM] Carol has been removed from your group.", svc.messages[1].Content)
	assert.Equal(t, memory.RoleSystem, svc.messages[1].Role)

	svc.messages = nil
	require.NoError(t, b.Announce(context.Background(), "agent", nil, nil))
	assert.Empty(t, svc.messages)
}

func TestBatcher_AnnounceKeepsGoing(t *testing.T) {
	calls := 0
	svc := &mockMemory{
		sendFunc: func(string, memory.Message) (memory.Reply, error) {
			calls++
			return memory.Reply{}, errors.New("down")
		},
	}
	err := NewBatcher(svc, nil).Announce(context.Background(), "agent", []string{"A"}, []string{"B", "C"})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, worldsync.KindCollaborator, worldsync.KindOf(err))
}
