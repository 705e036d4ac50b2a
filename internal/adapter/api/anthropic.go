package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

const anthropicVersion = "2023-06-01"

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Anthropic adapts the Messages API.
type Anthropic struct {
	*adapter.Base
	cfg       Config
	transport *transport
	maxTokens int
}

// NewAnthropic builds the anthropic-api surface.
func NewAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	cfg.RateLimitPerMinute = rpmOr(cfg.RateLimitPerMinute, 50)

	meta := domain.SurfaceMetadata{
		ID:       "anthropic-api",
		Name:     "Anthropic API",
		Category: domain.CategoryAPI,
		Auth:     domain.AuthAPIKey,
		Capabilities: domain.Capabilities{
			Streaming:           true,
			SystemPrompts:       true,
			ConversationHistory: true,
			ModelSelection:      true,
			MaxInputTokens:      200000,
			MaxOutputTokens:     8192,
		},
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Enabled:            cfg.APIKey != "",
	}
	return &Anthropic{
		Base:      adapter.NewBase(meta, policyOr(cfg.Policy), logger, cfg.Options...),
		cfg:       cfg,
		transport: newTransport(meta.ID, cfg.RateLimitPerMinute, cfg.HTTPClient, logger),
		maxTokens: 1024,
	}
}

// Query sends the request through the retry engine.
func (a *Anthropic) Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse {
	return a.Execute(ctx, req, a.call)
}

func (a *Anthropic) call(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
	body := messagesRequest{
		Model:       firstNonEmpty(req.Model, a.cfg.Model),
		MaxTokens:   a.maxTokens,
		System:      req.SystemPrompt,
		Messages:    anthropicMessages(req),
		Temperature: req.Temperature,
	}

	var out messagesResponse
	hc, err := a.transport.do(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", a.headers(), body, &out)
	if err != nil {
		return nil, translate(err)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" && out.StopReason == "refusal" {
		return domain.FailedResponse(
			domain.NewSurfaceError(domain.CodeContentBlocked, "model refused to answer", false, 0, nil),
			hc.timing(),
		), nil
	}

	return &domain.SurfaceQueryResponse{
		Success:      true,
		ResponseText: text,
		Structured:   &domain.StructuredResponse{MainResponse: text, ModelUsed: out.Model},
		Timing:       hc.timing(),
		Tokens: &domain.TokenUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Evidence: evidenceFor(req, hc, out),
		Metadata: map[string]any{"responseId": out.ID, "stopReason": out.StopReason},
	}, nil
}

// HealthCheck lists models, which costs no tokens.
func (a *Anthropic) HealthCheck(ctx context.Context) domain.HealthCheckResult {
	return a.Probe(ctx, func(ctx context.Context) error {
		_, err := a.transport.do(ctx, http.MethodGet, a.cfg.BaseURL+"/models", a.headers(), nil, nil)
		return err
	})
}

// Close releases idle connections. Safe to call more than once.
func (a *Anthropic) Close() error {
	a.transport.close()
	return nil
}

func (a *Anthropic) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

// anthropicMessages drops system turns from history; the API takes the
// system prompt as a separate field.
func anthropicMessages(req *domain.SurfaceQueryRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	return append(msgs, chatMessage{Role: string(domain.RoleUser), Content: req.Query})
}
