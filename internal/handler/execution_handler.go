package handler

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/failover"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
)

// ============================================================
// POST /v1/executions
// ============================================================

// executeHandler runs one request through the failover manager. Execution
// failures are a normal outcome and are returned as 200 with success=false;
// only malformed requests get a 4xx.
func executeHandler(exec *failover.Manager, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/executions")
		defer span.End()

		if exec == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}

		var req domain.ExecutionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("surface.id", req.SurfaceID))

		start := time.Now()
		res := exec.Execute(ctx, &req)
		if metrics != nil {
			metrics.RecordRequestDuration("execute", time.Since(start))
		}

		fields := append(observability.ExecutionFields(res), zap.String("subject", SubjectFromContext(ctx)))
		logger.Info("execution finished", fields...)

		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// POST /v1/executions/estimate
// ============================================================

type estimateResponse struct {
	SurfaceID        string  `json:"surfaceId"`
	Provider         string  `json:"provider"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

func estimateHandler(exec *failover.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if exec == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}

		var req domain.ExecutionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.SurfaceID == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "surfaceId", Message: "is required"}, logger)
			return
		}

		name, cost, err := exec.Estimate(&req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, estimateResponse{SurfaceID: req.SurfaceID, Provider: name, EstimatedCostUSD: cost})
	}
}
