package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	// Perplexity returns cited URLs alongside the completion.
	Citations []string `json:"citations,omitempty"`
}

// ChatCompletions adapts any OpenAI-compatible /chat/completions endpoint.
type ChatCompletions struct {
	*adapter.Base
	cfg       Config
	transport *transport
	probePath string
}

// NewOpenAI builds the openai-api surface.
func NewOpenAI(cfg Config, logger *zap.Logger) *ChatCompletions {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	meta := domain.SurfaceMetadata{
		ID:       "openai-api",
		Name:     "OpenAI API",
		Category: domain.CategoryAPI,
		Auth:     domain.AuthAPIKey,
		Capabilities: domain.Capabilities{
			SystemPrompts:       true,
			ConversationHistory: true,
			ModelSelection:      true,
			ResponseFormat:      true,
			Streaming:           true,
			MaxInputTokens:      128000,
			MaxOutputTokens:     16384,
		},
		RateLimitPerMinute: rpmOr(cfg.RateLimitPerMinute, 500),
		Enabled:            cfg.APIKey != "",
	}
	return newChatCompletions(meta, cfg, "/models", logger)
}

// NewPerplexity builds the perplexity-api surface. Perplexity speaks the
// OpenAI chat format and adds citations.
func NewPerplexity(cfg Config, logger *zap.Logger) *ChatCompletions {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}
	meta := domain.SurfaceMetadata{
		ID:       "perplexity-api",
		Name:     "Perplexity API",
		Category: domain.CategoryAPI,
		Auth:     domain.AuthAPIKey,
		Capabilities: domain.Capabilities{
			SystemPrompts:       true,
			ConversationHistory: true,
			ModelSelection:      true,
			MaxInputTokens:      127000,
		},
		RateLimitPerMinute: rpmOr(cfg.RateLimitPerMinute, 50),
		Enabled:            cfg.APIKey != "",
	}
	return newChatCompletions(meta, cfg, "", logger)
}

func newChatCompletions(meta domain.SurfaceMetadata, cfg Config, probePath string, logger *zap.Logger) *ChatCompletions {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = meta.RateLimitPerMinute
	}
	return &ChatCompletions{
		Base:      adapter.NewBase(meta, policyOr(cfg.Policy), logger, cfg.Options...),
		cfg:       cfg,
		transport: newTransport(meta.ID, cfg.RateLimitPerMinute, cfg.HTTPClient, logger),
		probePath: probePath,
	}
}

// Query sends the request through the retry engine.
func (c *ChatCompletions) Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse {
	return c.Execute(ctx, req, c.call)
}

func (c *ChatCompletions) call(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
	body := chatRequest{
		Model:       firstNonEmpty(req.Model, c.cfg.Model),
		Messages:    chatMessages(req),
		Temperature: req.Temperature,
	}

	var out chatResponse
	hc, err := c.transport.do(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", c.headers(), body, &out)
	if err != nil {
		return nil, translate(err)
	}
	if len(out.Choices) == 0 {
		return nil, domain.NewSurfaceError(domain.CodeInvalidResponse, "response has no choices", true, 0, nil)
	}
	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		return domain.FailedResponse(
			domain.NewSurfaceError(domain.CodeContentBlocked, "completion stopped by content filter", false, 0, nil),
			hc.timing(),
		), nil
	}

	text := strings.TrimSpace(choice.Message.Content)
	resp := &domain.SurfaceQueryResponse{
		Success:      true,
		ResponseText: text,
		Structured: &domain.StructuredResponse{
			MainResponse: text,
			Sources:      citationSources(out.Citations),
			ModelUsed:    out.Model,
		},
		Timing: hc.timing(),
		Tokens: &domain.TokenUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Evidence: evidenceFor(req, hc, out),
		Metadata: map[string]any{"responseId": out.ID, "finishReason": choice.FinishReason},
	}
	return resp, nil
}

// HealthCheck lists models when the vendor supports it; otherwise it reports
// the adapter's own record without touching the surface.
func (c *ChatCompletions) HealthCheck(ctx context.Context) domain.HealthCheckResult {
	if c.probePath == "" {
		return c.HealthSnapshot()
	}
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.transport.do(ctx, http.MethodGet, c.cfg.BaseURL+c.probePath, c.headers(), nil, nil)
		return err
	})
}

// Close releases idle connections. Safe to call more than once.
func (c *ChatCompletions) Close() error {
	c.transport.close()
	return nil
}

func (c *ChatCompletions) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func chatMessages(req *domain.SurfaceQueryRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: string(domain.RoleSystem), Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		msgs = append(msgs, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	return append(msgs, chatMessage{Role: string(domain.RoleUser), Content: req.Query})
}

func citationSources(urls []string) []domain.SourceCitation {
	if len(urls) == 0 {
		return nil
	}
	out := make([]domain.SourceCitation, 0, len(urls))
	for i, u := range urls {
		out = append(out, domain.SourceCitation{Rank: i + 1, URL: u, Kind: "citation"})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func rpmOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func policyOr(p adapter.RetryPolicy) adapter.RetryPolicy {
	if p == (adapter.RetryPolicy{}) {
		return adapter.DefaultRetryPolicy()
	}
	return p
}
