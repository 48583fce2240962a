// Package ingress accepts snapshots and chat requests from the game server
// over a websocket, validates them against JSON schemas and hands them to the
// ingestion queue. Chat replies are pushed back to every connected client.
package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zero-day-ai/worldsync/queue"
)

const (
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultOutBuffer    = 64
	maxMessageBytes     = 4 << 20
)

// Outbound message types.
const (
	TypeAck   = "ack"
	TypeError = "error"
	TypeReply = "reply"
)

// Enqueuer accepts validated items. queue.Ingestion implements it.
type Enqueuer interface {
	Enqueue(item queue.Item) error
}

// Outbound is every message the server writes to a client.
type Outbound struct {
	Type  string       `json:"type"`
	Kind  queue.Kind   `json:"kind,omitempty"`
	Error string       `json:"error,omitempty"`
	Reply *queue.Reply `json:"reply,omitempty"`
}

type client struct {
	id  string
	out chan []byte
}

// Server is the websocket ingress endpoint.
type Server struct {
	in        Enqueuer
	validator *Validator
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	outBuffer    int

	mu      sync.Mutex
	clients map[*client]struct{}

	accepted atomic.Int64
	rejected atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReadTimeout sets how long a connection may stay silent.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithCheckOrigin restricts which origins may connect. All origins are
// accepted by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		if fn != nil {
			s.upgrader.CheckOrigin = fn
		}
	}
}

// NewServer creates a Server feeding in.
func NewServer(in Enqueuer, opts ...Option) (*Server, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		in:        in,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:       slog.Default(),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		outBuffer:    DefaultOutBuffer,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ingress")
	return s, nil
}

// Handler returns the websocket upgrade handler.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessageBytes)

		c := &client{id: uuid.NewString(), out: make(chan []byte, s.outBuffer)}
		s.register(c)
		defer s.unregister(c)

		logger := s.logger.With("client", c.id, "remote", r.RemoteAddr)
		logger.Info("client connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.send(c, s.accept(logger, msg))
		}
		logger.Info("client disconnected")
	}
}

// accept validates and enqueues one inbound message and returns the answer.
func (s *Server) accept(logger *slog.Logger, msg []byte) Outbound {
	item, err := s.validator.Decode(msg)
	if err == nil {
		err = s.in.Enqueue(item)
	}
	if err != nil {
		s.rejected.Add(1)
		logger.Warn("rejected inbound message", "error", err)
		return Outbound{Type: TypeError, Error: err.Error()}
	}
	s.accepted.Add(1)
	return Outbound{Type: TypeAck, Kind: item.Kind()}
}

func (s *Server) send(c *client, msg Outbound) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal outbound message", "error", err)
		return
	}
	select {
	case c.out <- b:
	default:
		s.logger.Warn("client outbound buffer full, dropping message", "client", c.id, "type", msg.Type)
	}
}

// PublishReply pushes reply to every connected client.
func (s *Server) PublishReply(_ context.Context, reply queue.Reply) error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(clients) == 0 {
		s.logger.Debug("no clients connected, reply not delivered", "npc", reply.NPCID)
		return nil
	}
	for _, c := range clients {
		s.send(c, Outbound{Type: TypeReply, Reply: &reply})
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Counts returns how many inbound messages were accepted and rejected.
func (s *Server) Counts() (accepted, rejected int64) {
	return s.accepted.Load(), s.rejected.Load()
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
