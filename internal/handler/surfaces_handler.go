package handler

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/port"
	"github.com/boddenberg/surface-exec/internal/provider"
)

// ============================================================
// GET /v1/surfaces
// ============================================================

func listSurfacesHandler(adapters port.AdapterLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adapters == nil {
			writeJSON(w, http.StatusOK, []domain.SurfaceMetadata{})
			return
		}
		list := adapters.List()
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		writeJSON(w, http.StatusOK, list)
	}
}

// ============================================================
// GET /v1/surfaces/{surfaceId}/health
// ============================================================

func surfaceHealthHandler(inHouse *provider.InHouse, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/surfaces/{surfaceId}/health")
		defer span.End()

		id := chi.URLParam(r, "surfaceId")
		span.SetAttributes(attribute.String("surface.id", id))
		if inHouse == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}

		hc, ok := inHouse.SurfaceHealth(ctx, id)
		if !ok {
			handleServiceError(w, &domain.ErrNotFound{Resource: "surface", ID: id}, logger)
			return
		}
		writeJSON(w, http.StatusOK, hc)
	}
}

// ============================================================
// GET /v1/surfaces/{surfaceId}/rate-limit
// ============================================================

func surfaceRateLimitHandler(adapters port.AdapterLookup, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "surfaceId")
		if adapters == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}
		a, ok := adapters.Get(id)
		if !ok {
			handleServiceError(w, &domain.ErrNotFound{Resource: "surface", ID: id}, logger)
			return
		}
		writeJSON(w, http.StatusOK, a.RateLimitStatus())
	}
}
