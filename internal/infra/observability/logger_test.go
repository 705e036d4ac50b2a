package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		logger := observability.NewLogger(in)
		assert.True(t, logger.Core().Enabled(want), "level %q", in)
		if want > zapcore.DebugLevel {
			assert.False(t, logger.Core().Enabled(want-1), "level %q", in)
		}
	}
}

func TestExecutionFields(t *testing.T) {
	assert.Nil(t, observability.ExecutionFields(nil))

	core, logs := observer.New(zapcore.InfoLevel)
	res := &domain.ExecutionResult{
		ExecutionID: "e-1",
		SurfaceID:   "chatgpt-web",
		Error:       &domain.SurfaceError{Code: domain.CodeCaptchaRequired},
		Response: &domain.SurfaceQueryResponse{
			Attempts: []domain.RetryAttempt{{Number: 1}, {Number: 2}},
		},
		Metadata: domain.ExecutionMetadata{Provider: "in-house", ExecutionTimeMs: 40},
	}
	zap.New(core).Info("execution finished", observability.ExecutionFields(res)...)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "chatgpt-web", ctx["surface_id"])
	assert.Equal(t, "in-house", ctx["provider"])
	assert.Equal(t, "captcha_required", ctx["code"])
	assert.Equal(t, int64(2), ctx["attempts"])
	assert.Equal(t, false, ctx["success"])
}

func TestZapLoggerMiddleware_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(observability.ZapLoggerMiddleware(zap.New(core)))
	r.Get("/v1/surfaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	for _, id := range []string{"openai-api", "missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/surfaces/"+id, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/v1/surfaces/{id}", entries[1].ContextMap()["route"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["bytes"])
}
