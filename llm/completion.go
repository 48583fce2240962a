package llm

import "context"

// Completer performs a single chat completion.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// CompletionRequest represents a request for LLM completion.
type CompletionRequest struct {
	// System is prepended as the system message.
	System string

	// Messages contains the conversation history.
	Messages []Message

	// Temperature controls randomness in the output (0.0 to 2.0).
	Temperature *float64

	// MaxTokens limits the maximum number of tokens to generate.
	MaxTokens *int

	// JSONSchema, when set, requests structured output matching the schema.
	JSONSchema map[string]any

	// SchemaName names the structured output format.
	SchemaName string
}

// CompletionResponse represents a response from an LLM completion.
type CompletionResponse struct {
	// Content is the generated text content.
	Content string

	// Refusal is set when the model declined to answer.
	Refusal string

	// FinishReason indicates why the generation stopped.
	// Common values: "stop", "length", "content_filter"
	FinishReason string

	Usage TokenUsage
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CompletionOption is a functional option for configuring CompletionRequest.
type CompletionOption func(*CompletionRequest)

// WithTemperature sets the temperature for the completion request.
func WithTemperature(t float64) CompletionOption {
	return func(r *CompletionRequest) {
		r.Temperature = &t
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) CompletionOption {
	return func(r *CompletionRequest) {
		r.MaxTokens = &n
	}
}

// WithJSONSchema requests structured output.
func WithJSONSchema(name string, schema map[string]any) CompletionOption {
	return func(r *CompletionRequest) {
		r.SchemaName = name
		r.JSONSchema = schema
	}
}

// NewCompletionRequest creates a new CompletionRequest with the given system prompt, messages and options.
func NewCompletionRequest(system string, messages []Message, opts ...CompletionOption) *CompletionRequest {
	req := &CompletionRequest{
		System:   system,
		Messages: messages,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// HasContent returns true if the response contains text content.
func (r *CompletionResponse) HasContent() bool {
	return r.Content != ""
}

// IsRefusal reports whether the model refused.
func (r *CompletionResponse) IsRefusal() bool {
	return r.Refusal != ""
}

// IsComplete returns true if generation finished normally (not truncated).
func (r *CompletionResponse) IsComplete() bool {
	return r.FinishReason == "stop"
}
