package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPOptions configures HTTPService.
type HTTPOptions struct {
	// BaseURL of the agent-memory server, e.g. "http://localhost:8283".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds every request. Defaults to 10s.
	Timeout time.Duration

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client

	Logger *slog.Logger

	// Now defaults to time.Now and stamps group block updates.
	Now func() time.Time
}

// HTTPService talks to the agent-memory REST API.
type HTTPService struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

var _ Service = (*HTTPService)(nil)

// NewHTTPService creates a REST-backed Service.
func NewHTTPService(opts HTTPOptions) *HTTPService {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPService{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  client,
		logger:  logger.With("component", "memory"),
		now:     now,
	}
}

// GetBlock fetches a core-memory block.
func (s *HTTPService) GetBlock(ctx context.Context, agentID, label string) (Block, error) {
	if agentID == "" {
		return Block{}, ErrInvalidAgent
	}
	var block Block
	if err := s.do(ctx, http.MethodGet, s.blockPath(agentID, label), nil, &block); err != nil {
		return Block{}, err
	}
	if block.Label == "" {
		block.Label = label
	}
	return block, nil
}

// UpdateBlock overwrites a core-memory block value.
func (s *HTTPService) UpdateBlock(ctx context.Context, agentID, label, value string) (Result, error) {
	if agentID == "" {
		return Result{Success: false, Message: ErrInvalidAgent.Error()}, ErrInvalidAgent
	}
	body := map[string]string{"value": value}
	if err := s.do(ctx, http.MethodPatch, s.blockPath(agentID, label), body, nil); err != nil {
		return Result{Success: false, Message: err.Error()}, err
	}
	return Result{Success: true, Message: "updated " + label}, nil
}

// UpsertMember reads the group block, merges member and writes it back.
// A missing or unparsable block starts from empty.
func (s *HTTPService) UpsertMember(ctx context.Context, agentID string, member Member) (Result, error) {
	if member.ID == "" {
		return Result{Success: false, Message: ErrInvalidMember.Error()}, ErrInvalidMember
	}

	var group GroupBlock
	block, err := s.GetBlock(ctx, agentID, BlockGroupMembers)
	switch {
	case err == nil && block.Value != "":
		if uerr := json.Unmarshal([]byte(block.Value), &group); uerr != nil {
			s.logger.Warn("group block is not valid json, resetting",
				"agent_id", agentID,
				"error", uerr)
			group = GroupBlock{}
		}
	case err != nil && !isNotFound(err):
		return Result{Success: false, Message: err.Error()}, err
	}

	group.Apply(member, updateLine(member), s.now())

	encoded, err := json.Marshal(group)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, fmt.Errorf("memory: marshal group block: %w", err)
	}
	res, err := s.UpdateBlock(ctx, agentID, BlockGroupMembers, string(encoded))
	if err != nil {
		return res, err
	}
	return Result{
		Success: true,
		Message: "upserted " + member.ID,
		Data:    map[string]any{"present": group.Present(), "summary": group.Summary},
	}, nil
}

// SendMessage posts msg to the agent and decodes the reply messages.
func (s *HTTPService) SendMessage(ctx context.Context, agentID string, msg Message) (Reply, error) {
	if agentID == "" {
		return Reply{}, ErrInvalidAgent
	}
	req := sendRequest{Messages: []Message{msg}}
	var resp sendResponse
	if err := s.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/messages", req, &resp); err != nil {
		return Reply{}, err
	}
	return resp.reply(), nil
}

func (s *HTTPService) blockPath(agentID, label string) string {
	return "/v1/agents/" + url.PathEscape(agentID) + "/core-memory/blocks/" + url.PathEscape(label)
}

func (s *HTTPService) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("memory: marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("memory: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrServiceFailed, method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn("failed to close resource", "resource", "memory HTTP response", "error", cerr)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned status %d: %s",
			ErrServiceFailed, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrServiceFailed, path, err)
	}
	return nil
}

type sendRequest struct {
	Messages []Message `json:"messages"`
}

type sendResponse struct {
	Messages []agentMessage `json:"messages"`
}

type agentMessage struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
	ToolCall    *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"tool_call,omitempty"`
}

func (r sendResponse) reply() Reply {
	var out Reply
	var texts []string
	for _, m := range r.Messages {
		switch m.MessageType {
		case "assistant_message":
			if m.Content != "" {
				texts = append(texts, m.Content)
			}
		case "reasoning_message", "internal_monologue":
			if m.Reasoning != "" {
				out.Thoughts = append(out.Thoughts, m.Reasoning)
			}
		case "tool_call_message":
			if m.ToolCall == nil {
				continue
			}
			call := ToolCall{Name: m.ToolCall.Name}
			if m.ToolCall.Arguments != "" && json.Valid([]byte(m.ToolCall.Arguments)) {
				call.Arguments = json.RawMessage(m.ToolCall.Arguments)
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	out.Text = strings.Join(texts, " ")
	out.Action = ActionFromToolCalls(out.ToolCalls)
	return out
}

// Action types produced by ActionFromToolCalls.
const (
	ActionNone        = "none"
	ActionFollow      = "follow"
	ActionUnfollow    = "unfollow"
	ActionStopTalking = "stop_talking"
)

// ActionFromToolCalls maps the first recognised tool call to an Action.
// perform_action carries {"action": "follow"|"unfollow", ...}; end_conversation
// ends the chat. Anything else yields ActionNone.
func ActionFromToolCalls(calls []ToolCall) Action {
	for _, call := range calls {
		switch call.Name {
		case "end_conversation":
			return Action{Type: ActionStopTalking}
		case "perform_action":
			var args map[string]any
			if len(call.Arguments) > 0 {
				_ = json.Unmarshal(call.Arguments, &args)
			}
			kind, _ := args["action"].(string)
			switch kind {
			case ActionFollow, ActionUnfollow:
				delete(args, "action")
				return Action{Type: kind, Data: args}
			}
		}
	}
	return Action{Type: ActionNone}
}

func updateLine(m Member) string {
	if m.IsPresent {
		return m.Name + " is in the group"
	}
	return m.Name + " left the group"
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
