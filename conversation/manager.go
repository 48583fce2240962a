package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/telemetry"
)

// DefaultExpiry is how long a session may stay idle before CleanupExpired ends it.
const DefaultExpiry = 30 * time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithExpiry sets the idle expiry.
func WithExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator overrides uuid-based session ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithMetrics records session starts and ends.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Manager) { m.telemetry = mt }
}

// Manager is the session registry. Safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	byParticipant map[string]map[string]struct{}
	metrics       Metrics

	expiry time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	telemetry *telemetry.Metrics
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:      make(map[string]*Session),
		byParticipant: make(map[string]map[string]struct{}),
		expiry:        DefaultExpiry,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "conversation_manager")
	return m
}

// Expiry returns the idle expiry.
func (m *Manager) Expiry() time.Duration {
	return m.expiry
}

// Create opens a session between a and b. An unsupported type fails with
// worldsync.ErrUnsupportedType and leaves the counters untouched. A missing
// name defaults to "Entity_<id>".
func (m *Manager) Create(typ Type, a, b Participant) (*Session, error) {
	if err := validateCreate(typ, a, b); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(typ, a, b)
}

// Open returns the active session between a and b, creating one when there
// is none. Lookup and creation happen under one lock, so concurrent first
// messages between the same pair share a session. created reports whether
// the session is new.
func (m *Manager) Open(typ Type, a, b Participant) (s *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if best := m.betweenLocked(a.ID, b.ID); best != nil {
		return best.clone(), false, nil
	}
	if err := validateCreate(typ, a, b); err != nil {
		return nil, false, err
	}
	s, err = m.createLocked(typ, a, b)
	return s, err == nil, err
}

func validateCreate(typ Type, a, b Participant) error {
	if !typ.Valid() {
		return worldsync.NewValidationError("Manager.Create",
			fmt.Errorf("%w: %q", worldsync.ErrUnsupportedType, typ))
	}
	if a.ID == "" || b.ID == "" {
		return worldsync.NewValidationError("Manager.Create",
			fmt.Errorf("%w: participant id is empty", worldsync.ErrMalformedItem))
	}
	if a.ID == b.ID {
		return worldsync.NewValidationError("Manager.Create",
			fmt.Errorf("%w: participants must differ", worldsync.ErrMalformedItem))
	}
	return nil
}

// createLocked inserts a new session. m.mu must be held.
func (m *Manager) createLocked(typ Type, a, b Participant) (s *Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = worldsync.NewInternalError("Manager.Create", fmt.Errorf("panic: %v", r))
			m.logger.Error("panic creating conversation", "panic", r)
		}
	}()

	a = withDefaultName(a)
	b = withDefaultName(b)
	id := m.newID()

	if _, dup := m.sessions[id]; dup {
		return nil, worldsync.NewInternalError("Manager.Create", fmt.Errorf("duplicate session id %s", id))
	}

	now := m.now()
	session := &Session{
		ID:           id,
		Type:         typ,
		Participants: map[string]Participant{a.ID: a, b.ID: b},
		CreatedAt:    now,
		LastUpdate:   now,
		Metadata:     make(map[string]string),
	}
	m.sessions[id] = session
	m.index(a.ID, id)
	m.index(b.ID, id)

	m.metrics.TotalConversations++
	m.metrics.ActiveConversations++
	m.telemetry.SessionStarted(context.Background())

	m.logger.Info("conversation created",
		"session_id", id,
		"type", typ,
		"initiator", a.Name,
		"target", b.Name)
	return session.clone(), nil
}

func withDefaultName(p Participant) Participant {
	if p.Name == "" {
		p.Name = "Entity_" + p.ID
	}
	return p
}

func (m *Manager) index(participant, sessionID string) {
	set, ok := m.byParticipant[participant]
	if !ok {
		set = make(map[string]struct{})
		m.byParticipant[participant] = set
	}
	set[sessionID] = struct{}{}
}

func (m *Manager) unindex(participant, sessionID string) {
	set, ok := m.byParticipant[participant]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(m.byParticipant, participant)
	}
}

// Append adds a message with a server-side timestamp. It returns false for an
// unknown session.
func (m *Manager) Append(id, senderID, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	now := m.now()
	s.Messages = append(s.Messages, Message{SenderID: senderID, Content: content, Timestamp: now})
	s.LastUpdate = now
	m.metrics.TotalMessages++
	return true
}

// SetMetadata stores a metadata value on a session.
func (m *Manager) SetMetadata(id, key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.Metadata[key] = value
	return true
}

// End terminates a session. It returns false for an unknown session.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(id)
}

func (m *Manager) endLocked(id string) bool {
	s, ok := m.sessions[id]
	if !ok {
		return false
	}

	m.metrics.ActiveConversations--
	m.metrics.CompletedConversations++
	m.telemetry.SessionEnded(context.Background())

	if n := len(s.Messages); n > 1 {
		sample := s.LastUpdate.Sub(s.CreatedAt).Seconds() / float64(n)
		m.metrics.ResponseSamples++
		k := float64(m.metrics.ResponseSamples)
		m.metrics.AverageResponseTime = (m.metrics.AverageResponseTime*(k-1) + sample) / k
	}

	for pid := range s.Participants {
		m.unindex(pid, id)
	}
	delete(m.sessions, id)

	m.logger.Debug("conversation ended",
		"session_id", id,
		"messages", len(s.Messages))
	return true
}

// CleanupExpired ends every session idle for longer than the expiry and
// returns how many it ended.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []string
	for id, s := range m.sessions {
		if now.Sub(s.LastUpdate) > m.expiry {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		if m.endLocked(id) {
			m.metrics.ExpiredConversations++
		}
	}
	if len(expired) > 0 {
		m.logger.Info("expired conversations cleaned up", "count", len(expired))
	}
	return len(expired)
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// ActiveFor returns copies of the participant's sessions, oldest first.
func (m *Manager) ActiveFor(participantID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byParticipant[participantID]
	out := make([]*Session, 0, len(set))
	for id := range set {
		out = append(out, m.sessions[id].clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveBetween returns the most recently updated session containing both a
// and b.
func (m *Manager) ActiveBetween(a, b string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := m.betweenLocked(a, b)
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

func (m *Manager) betweenLocked(a, b string) *Session {
	var best *Session
	for id := range m.byParticipant[a] {
		s := m.sessions[id]
		if !s.Has(b) {
			continue
		}
		if best == nil || s.LastUpdate.After(best.LastUpdate) {
			best = s
		}
	}
	return best
}

// History returns the session's messages, the last limit of them when limit > 0.
func (m *Manager) History(id string, limit int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	msgs := s.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...)
}

// Context returns the metadata view of a session.
func (m *Manager) Context(id string) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Context{}, false
	}
	c := s.clone()
	return Context{
		ID:           c.ID,
		Type:         c.Type,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
		LastUpdate:   c.LastUpdate,
		MessageCount: len(c.Messages),
		Metadata:     c.Metadata,
	}, true
}

// Metrics returns a copy of the counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
