package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/boddenberg/surface-exec/internal/domain"
)

func TestGeminiError_MapsStatus(t *testing.T) {
	err := fmt.Errorf("generate: %w", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded for metric"})

	var he *HTTPError
	require.True(t, errors.As(geminiError(err), &he))
	assert.Equal(t, 429, he.Status)
	assert.Equal(t, domain.CodeQuotaExceeded, translate(geminiError(err)).Code)

	plain := errors.New("dial tcp: connection refused")
	assert.Equal(t, plain, geminiError(plain))
	assert.Nil(t, geminiError(nil))
}

func TestGeminiContents_History(t *testing.T) {
	req := &domain.SurfaceQueryRequest{
		Query: "and now?",
		History: []domain.ConversationTurn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleSystem, Content: "skipped"},
		},
	}
	contents := geminiContents(req)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "and now?", contents[2].Parts[0].Text)
}

func TestGeminiConfig(t *testing.T) {
	temp := 0.2
	cfg := geminiConfig(&domain.SurfaceQueryRequest{SystemPrompt: "sys", Temperature: &temp})
	require.NotNil(t, cfg.SystemInstruction)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, float64(*cfg.Temperature), 1e-6)
}

func TestRetryAfterHeader(t *testing.T) {
	he := &HTTPError{Status: 503, Body: "busy", RetryAfter: 0}
	assert.Equal(t, int64(30000), translate(he).RetryAfterMs)

	he.RetryAfter = retryAfter("90")
	assert.Equal(t, int64(90000), translate(he).RetryAfterMs)
	assert.Equal(t, int64(0), int64(retryAfter("soon")))
}
