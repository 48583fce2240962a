package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIOptions configures the OpenAI completer.
type OpenAIOptions struct {
	APIKey string

	// Model defaults to gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint (tests, proxies, compatible servers).
	BaseURL string

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries caps retries. Negative keeps the client library policy.
	MaxRetries int

	HTTPClient *http.Client
}

// OpenAI implements Completer with the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

var _ Completer = (*OpenAI)(nil)

// ErrNoChoices is returned when the API answers without any choice.
var ErrNoChoices = errors.New("llm: completion returned no choices")

// NewOpenAI creates an OpenAI completer.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(timeout),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	model := opts.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Complete sends req to the chat completions endpoint.
func (o *OpenAI) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: toOpenAIMessages(req),
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.JSONSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.JSONSchema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := completion.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Refusal:      choice.Message.Refusal,
		FinishReason: choice.FinishReason,
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func toOpenAIMessages(req *CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			msg := openai.UserMessage(m.Content)
			if m.Name != "" && msg.OfUser != nil {
				msg.OfUser.Name = openai.String(speakerName(m.Name))
			}
			out = append(out, msg)
		}
	}
	return out
}

// speakerName maps a display name onto the characters the API accepts for
// message names.
func speakerName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			b[i] = '_'
		}
	}
	if len(b) > 64 {
		b = b[:64]
	}
	return string(b)
}
