package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// Action types an NPC may choose.
const (
	ActionFollow      = "follow"
	ActionUnfollow    = "unfollow"
	ActionStopTalking = "stop_talking"
	ActionNone        = "none"
)

// Fallback lines used when no usable model output exists.
const (
	RefusalReply    = "I cannot respond to that request."
	IncompleteReply = "I apologize, but I was unable to complete my response."
	FailureReply    = "Hello! How can I help you today?"
)

// Default generation parameters.
const (
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
)

// Action is what the NPC decides to do alongside its reply.
type Action struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// NPCResponse is the structured reply produced by the model.
type NPCResponse struct {
	Message       string         `json:"message"`
	Action        Action         `json:"action"`
	InternalState map[string]any `json:"internal_state,omitempty"`
}

// ValidAction reports whether t is a known action type.
func ValidAction(t string) bool {
	switch t {
	case ActionFollow, ActionUnfollow, ActionStopTalking, ActionNone:
		return true
	}
	return false
}

// ResponseSchema is the JSON schema requested from the model.
func ResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The NPC's spoken response",
			},
			"action": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{ActionFollow, ActionUnfollow, ActionStopTalking, ActionNone},
					},
					"data": map[string]any{"type": "object"},
				},
				"required":             []string{"type"},
				"additionalProperties": false,
			},
			"internal_state": map[string]any{"type": "object"},
		},
		"required":             []string{"message", "action"},
		"additionalProperties": false,
	}
}

// Responder produces NPC replies and never returns an error.
type Responder struct {
	completer   Completer
	logger      *slog.Logger
	maxTokens   int
	temperature float64
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderMaxTokens overrides DefaultMaxTokens.
func WithResponderMaxTokens(n int) ResponderOption {
	return func(r *Responder) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithResponderTemperature overrides DefaultTemperature.
func WithResponderTemperature(t float64) ResponderOption {
	return func(r *Responder) { r.temperature = t }
}

// NewResponder creates a Responder over c.
func NewResponder(c Completer, logger *slog.Logger, opts ...ResponderOption) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Responder{
		completer:   c,
		logger:      logger.With("component", "llm"),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond asks the model for the next NPC line.
func (r *Responder) Respond(ctx context.Context, system string, history []Message) NPCResponse {
	if r.completer == nil {
		return fallback(FailureReply)
	}

	req := NewCompletionRequest(system, history,
		WithMaxTokens(r.maxTokens),
		WithTemperature(r.temperature),
		WithJSONSchema("npc_response", ResponseSchema()),
	)
	resp, err := r.completer.Complete(ctx, req)
	if err != nil {
		r.logger.Error("completion failed", "error", err)
		return fallback(FailureReply)
	}
	if resp.IsRefusal() {
		r.logger.Warn("model refused to respond", "refusal", resp.Refusal)
		return fallback(RefusalReply)
	}
	if !resp.IsComplete() {
		r.logger.Warn("response incomplete", "finish_reason", resp.FinishReason)
		return fallback(IncompleteReply)
	}

	r.logger.Debug("completion received",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	out, ok := parseNPCResponse(resp.Content)
	if !ok {
		r.logger.Error("unparsable model output", "content", resp.Content)
		return fallback(FailureReply)
	}
	return out
}

func parseNPCResponse(content string) (NPCResponse, bool) {
	var out NPCResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return NPCResponse{}, false
	}
	if out.Message == "" {
		return NPCResponse{}, false
	}
	if !ValidAction(out.Action.Type) {
		out.Action = Action{Type: ActionNone}
	}
	return out, true
}

func fallback(msg string) NPCResponse {
	return NPCResponse{Message: msg, Action: Action{Type: ActionNone}}
}
