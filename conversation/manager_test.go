package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/worldsync"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("s%d", n)
	}
}

var (
	player = Participant{ID: "player-1", Kind: KindPlayer, Name: "Kaiden"}
	npc    = Participant{ID: "npc-1", Kind: KindNPC, Name: "Diamond"}
	npc2   = Participant{ID: "npc-2", Kind: KindNPC}
)

func TestManager_Create(t *testing.T) {
	m := NewManager(WithIDGenerator(sequentialIDs()))

	s, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Len(t, s.Participants, 2)
	assert.Equal(t, TypeNPCUser, s.Type)

	s2, err := m.Create(TypeNPCNPC, npc, npc2)
	require.NoError(t, err)
	assert.Equal(t, "Entity_npc-2", s2.Participants["npc-2"].Name)

	got := m.Metrics()
	assert.Equal(t, int64(2), got.TotalConversations)
	assert.Equal(t, int64(2), got.ActiveConversations)
	assert.Len(t, m.ActiveFor("npc-1"), 2)
}

func TestManager_CreateRejects(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		a, b    Participant
		wantErr error
	}{
		{"unsupported type", Type("broadcast"), player, npc, worldsync.ErrUnsupportedType},
		{"empty type", Type(""), player, npc, worldsync.ErrUnsupportedType},
		{"empty participant", TypeNPCUser, Participant{}, npc, worldsync.ErrMalformedItem},
		{"same participant", TypeNPCUser, npc, npc, worldsync.ErrMalformedItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			s, err := m.Create(tt.typ, tt.a, tt.b)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, worldsync.KindValidation, worldsync.KindOf(err))
			assert.Equal(t, Metrics{}, m.Metrics())
			assert.Equal(t, 0, m.Len())
		})
	}
}

func TestManager_CreateRecoversPanic(t *testing.T) {
	m := NewManager(WithIDGenerator(func() string { panic("id source exhausted") }))

	s, err := m.Create(TypeNPCUser, player, npc)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, worldsync.KindInternal, worldsync.KindOf(err))
	assert.Equal(t, int64(0), m.Metrics().TotalConversations)
}

func TestManager_AppendAndHistory(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	s, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		require.True(t, m.Append(s.ID, player.ID, fmt.Sprintf("line %d", i)))
	}
	assert.False(t, m.Append("missing", player.ID, "x"))

	hist := m.History(s.ID, 2)
	require.Len(t, hist, 2)
	assert.Equal(t, "line 3", hist[0].Content)
	assert.Equal(t, "line 4", hist[1].Content)
	assert.Len(t, m.History(s.ID, 0), 5)
	assert.Nil(t, m.History("missing", 10))

	ctx, ok := m.Context(s.ID)
	require.True(t, ok)
	assert.Equal(t, 5, ctx.MessageCount)
	assert.Equal(t, clock.Now(), ctx.LastUpdate)
	assert.Equal(t, int64(5), m.Metrics().TotalMessages)
}

func TestManager_GetReturnsCopy(t *testing.T) {
	m := NewManager()
	s, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	require.True(t, m.SetMetadata(s.ID, "topic", "weather"))

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	got.Metadata["topic"] = "changed"
	got.Messages = append(got.Messages, Message{Content: "injected"})

	again, _ := m.Get(s.ID)
	assert.Equal(t, "weather", again.Metadata["topic"])
	assert.Empty(t, again.Messages)
}

func TestManager_End(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	// 4 messages over 8 seconds: sample = 2s.
	a, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		clock.Advance(2 * time.Second)
		m.Append(a.ID, player.ID, "x")
	}
	require.True(t, m.End(a.ID))
	assert.InDelta(t, 2.0, m.Metrics().AverageResponseTime, 1e-9)

	// A single-message session adds no sample.
	b, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	clock.Advance(100 * time.Second)
	m.Append(b.ID, player.ID, "x")
	require.True(t, m.End(b.ID))
	assert.InDelta(t, 2.0, m.Metrics().AverageResponseTime, 1e-9)

	// 2 messages over 8 seconds: sample = 4s, average of {2, 4} = 3.
	c, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	clock.Advance(4 * time.Second)
	m.Append(c.ID, player.ID, "x")
	clock.Advance(4 * time.Second)
	m.Append(c.ID, npc.ID, "y")
	require.True(t, m.End(c.ID))

	got := m.Metrics()
	assert.InDelta(t, 3.0, got.AverageResponseTime, 1e-9)
	assert.Equal(t, int64(2), got.ResponseSamples)
	assert.Equal(t, int64(3), got.CompletedConversations)
	assert.Equal(t, int64(0), got.ActiveConversations)
	assert.Empty(t, m.ActiveFor(player.ID))
	assert.False(t, m.End(c.ID))
}

func TestManager_CleanupExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now), WithExpiry(30*time.Minute))

	stale, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	fresh, err := m.Create(TypeNPCNPC, npc, npc2)
	require.NoError(t, err)

	// Exactly at the expiry nothing is ended.
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, m.CleanupExpired())

	clock.Advance(time.Second)
	assert.Equal(t, 1, m.CleanupExpired())
	assert.Equal(t, 0, m.CleanupExpired())

	_, ok := m.Get(stale.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)

	got := m.Metrics()
	assert.Equal(t, int64(1), got.ExpiredConversations)
	assert.Equal(t, int64(1), got.CompletedConversations)
	assert.Equal(t, int64(1), got.ActiveConversations)
}

func TestManager_ActiveBetween(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now), WithIDGenerator(sequentialIDs()))

	_, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)
	_, err = m.Create(TypeNPCNPC, npc, npc2)
	require.NoError(t, err)

	got, ok := m.ActiveBetween(player.ID, npc.ID)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	_, ok = m.ActiveBetween(player.ID, npc2.ID)
	assert.False(t, ok)

	ids := []string{}
	for _, s := range m.ActiveFor(npc.ID) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids)
}

func TestManager_Concurrent(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := Participant{ID: fmt.Sprintf("player-%d", i)}
			s, err := m.Create(TypeNPCUser, p, npc)
			if err != nil {
				return
			}
			m.Append(s.ID, p.ID, "hi")
			m.Append(s.ID, npc.ID, "hello")
			if i%2 == 0 {
				m.End(s.ID)
			}
		}(i)
	}
	wg.Wait()

	got := m.Metrics()
	assert.Equal(t, int64(20), got.TotalConversations)
	assert.Equal(t, int64(10), got.ActiveConversations)
	assert.Equal(t, int64(40), got.TotalMessages)
	assert.Equal(t, 10, m.Len())
	assert.Len(t, m.ActiveFor(npc.ID), 10)
}

func TestManager_Open(t *testing.T) {
	m := NewManager(WithIDGenerator(sequentialIDs()))

	s, created, err := m.Open(TypeNPCUser, player, npc)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", s.ID)

	again, created, err := m.Open(TypeNPCUser, player, npc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "s1", again.ID)

	// an existing session wins over the requested type
	again, created, err = m.Open(Type("bogus"), npc, player)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "s1", again.ID)

	_, _, err = m.Open(Type("bogus"), player, npc2)
	assert.ErrorIs(t, err, worldsync.ErrUnsupportedType)
	assert.Equal(t, int64(1), m.Metrics().TotalConversations)
}

func TestManager_OpenConcurrent(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	got := make([]string, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := m.Open(TypeNPCUser, player, npc)
			if err == nil {
				got[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
	assert.NotEmpty(t, got[0])
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, int64(1), m.Metrics().TotalConversations)
}
