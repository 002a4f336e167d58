package permissions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/liana-admin/liana/internal/platform/httpx"
)

// Handler wires HTTP endpoints for permission cache management.
type Handler struct {
	logger    *slog.Logger
	cache     *Cache
	fanout    *InvalidationFanout
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, cache *Cache, fanout *InvalidationFanout) *Handler {
	return &Handler{
		logger:    logger,
		cache:     cache,
		fanout:    fanout,
		validator: validator.New(),
	}
}

// MountRoutes registers permission routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/scope-cache-invalidation", h.handleInvalidate)
}

type invalidateRequest struct {
	RenderingID string `json:"renderingId" validate:"required"`
}

// handleInvalidate expires the cached permissions for one rendering. The
// payload is validated before the cache is touched, so a malformed
// notification can never clear anything.
func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var body invalidateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	h.cache.Invalidate(body.RenderingID)
	if err := h.fanout.Broadcast(r.Context(), body.RenderingID); err != nil {
		// The local cache is already expired; a lost broadcast only delays
		// the other replicas until their TTL elapses.
		h.logger.Warn("invalidation broadcast failed",
			slog.String("rendering", body.RenderingID),
			slog.Any("error", err))
	}
	h.logger.Info("permissions cache invalidation requested", slog.String("rendering", body.RenderingID))
	w.WriteHeader(http.StatusNoContent)
}
