package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

// Gemini adapts the Gemini API through the genai SDK.
type Gemini struct {
	*adapter.Base
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGemini builds the gemini-api surface.
func NewGemini(ctx context.Context, cfg Config, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	cfg.RateLimitPerMinute = rpmOr(cfg.RateLimitPerMinute, 60)

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	meta := domain.SurfaceMetadata{
		ID:       "gemini-api",
		Name:     "Gemini API",
		Category: domain.CategoryAPI,
		Auth:     domain.AuthAPIKey,
		Capabilities: domain.Capabilities{
			Streaming:           true,
			SystemPrompts:       true,
			ConversationHistory: true,
			ModelSelection:      true,
			ResponseFormat:      true,
			FileUploads:         true,
			MaxInputTokens:      1048576,
			MaxOutputTokens:     8192,
		},
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Enabled:            true,
	}
	t := newTransport(meta.ID, cfg.RateLimitPerMinute, nil, logger)
	return &Gemini{
		Base:    adapter.NewBase(meta, policyOr(cfg.Policy), logger, cfg.Options...),
		client:  client,
		model:   cfg.Model,
		breaker: t.breaker,
		limiter: t.limiter,
	}, nil
}

// Query sends the request through the retry engine.
func (g *Gemini) Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse {
	return g.Execute(ctx, req, g.call)
}

func (g *Gemini) call(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	model := firstNonEmpty(req.Model, g.model)
	start := time.Now()
	out, err := g.breaker.Execute(func() (any, error) {
		return g.client.Models.GenerateContent(ctx, model, geminiContents(req), geminiConfig(req))
	})
	elapsed := time.Since(start).Milliseconds()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewSurfaceError(domain.CodeServiceUnavailable, "circuit breaker open for gemini-api", true, 30*time.Second, err)
	}
	if err != nil {
		return nil, translate(geminiError(err))
	}
	resp := out.(*genai.GenerateContentResponse)
	timing := domain.ResponseTiming{TotalMs: elapsed, ResponseMs: elapsed}

	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		return domain.FailedResponse(
			domain.NewSurfaceError(domain.CodeContentBlocked, "prompt blocked: "+string(pf.BlockReason), false, 0, nil),
			timing,
		), nil
	}

	text := strings.TrimSpace(resp.Text())
	sr := &domain.SurfaceQueryResponse{
		Success:      true,
		ResponseText: text,
		Structured:   &domain.StructuredResponse{MainResponse: text, ModelUsed: firstNonEmpty(resp.ModelVersion, model)},
		Timing:       timing,
	}
	if um := resp.UsageMetadata; um != nil {
		sr.Tokens = &domain.TokenUsage{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
			TotalTokens:  int(um.TotalTokenCount),
		}
	}
	if req.Evidence() != domain.EvidenceNone {
		sr.Evidence = &domain.Evidence{CapturedAt: time.Now(), HTML: text}
	}
	return sr, nil
}

// HealthCheck fetches the model description, which costs no tokens.
func (g *Gemini) HealthCheck(ctx context.Context) domain.HealthCheckResult {
	return g.Probe(ctx, func(ctx context.Context) error {
		_, err := g.client.Models.Get(ctx, g.model, nil)
		return geminiError(err)
	})
}

// Close is a no-op: the SDK client holds no resources needing release.
func (g *Gemini) Close() error {
	return nil
}

// geminiError converts SDK API errors into HTTPError so the shared status
// classification applies.
func geminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Status: apiErr.Code, Body: firstNonEmpty(apiErr.Status+": "+apiErr.Message, err.Error())}
	}
	return err
}

func geminiContents(req *domain.SurfaceQueryRequest) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		switch turn.Role {
		case domain.RoleUser:
			out = append(out, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case domain.RoleAssistant:
			out = append(out, genai.NewContentFromText(turn.Content, genai.RoleModel))
		}
	}
	return append(out, genai.NewContentFromText(req.Query, genai.RoleUser))
}

func geminiConfig(req *domain.SurfaceQueryRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	return cfg
}
