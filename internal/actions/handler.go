package actions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/liana-admin/liana/internal/filters"
	"github.com/liana-admin/liana/internal/permissions"
	"github.com/liana-admin/liana/internal/platform/httpx"
	"github.com/liana-admin/liana/internal/shared"
)

// Handler wires HTTP endpoints for smart action authorization.
type Handler struct {
	logger    *slog.Logger
	service   *AuthorizationService
	store     *ApprovalStore
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. The audit logger may be nil.
func NewHandler(logger *slog.Logger, service *AuthorizationService, store *ApprovalStore, audit *shared.AuditLogger) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		store:     store,
		audit:     audit,
		validator: validator.New(),
	}
}

// MountRoutes registers action routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{collection}/{action}", h.handleTrigger)
	r.Post("/{collection}/{action}/approve", h.handleApprove)
}

type triggerRequest struct {
	UserID      int             `json:"userId" validate:"required"`
	RoleID      int             `json:"roleId" validate:"required"`
	RenderingID string          `json:"renderingId" validate:"required"`
	Filters     json.RawMessage `json:"filters"`
	Timezone    string          `json:"timezone"`
}

type approveRequest struct {
	UserID      int    `json:"userId" validate:"required"`
	RoleID      int    `json:"roleId" validate:"required"`
	RenderingID string `json:"renderingId" validate:"required"`
	ApprovalID  string `json:"approvalId" validate:"required,uuid4"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	tree, err := filters.Parse(body.Filters)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Filter", err.Error())
		return
	}

	req := Request{
		Caller: Caller{
			UserID:      body.UserID,
			RoleID:      body.RoleID,
			RenderingID: body.RenderingID,
		},
		Collection: chi.URLParam(r, "collection"),
		Action:     chi.URLParam(r, "action"),
		Filters:    tree,
		Timezone:   body.Timezone,
	}

	err = h.service.AssertCanTrigger(r.Context(), req)
	if err == nil {
		h.recordAudit(r, req, "trigger", true, "")
		httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": true})
		return
	}
	h.recordAudit(r, req, "trigger", false, err.Error())

	var requires *RequiresApprovalError
	if errors.As(err, &requires) {
		pending, storeErr := h.store.Create(r.Context(), PendingApproval{
			RequesterID:             req.Caller.UserID,
			RequesterRoleID:         req.Caller.RoleID,
			RenderingID:             req.Caller.RenderingID,
			Collection:              req.Collection,
			Action:                  req.Action,
			Filters:                 req.Filters,
			Timezone:                req.Timezone,
			RoleIDsAllowedToApprove: requires.RoleIDsAllowedToApprove,
		})
		if storeErr != nil {
			h.logger.Error("persist pending approval", slog.Any("error", storeErr))
			httpx.RespondError(w, storeErr)
			return
		}
		httpx.ProblemWithData(w, http.StatusForbidden, "CustomActionRequiresApprovalError", err.Error(), map[string]any{
			"approvalId":              pending.ID,
			"roleIdsAllowedToApprove": requires.RoleIDsAllowedToApprove,
		})
		return
	}
	h.respondAuthorizationError(w, err)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	pending, err := h.store.Get(r.Context(), body.ApprovalID)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}

	req := Request{
		Caller: Caller{
			UserID:      body.UserID,
			RoleID:      body.RoleID,
			RenderingID: body.RenderingID,
		},
		Collection: pending.Collection,
		Action:     pending.Action,
		Filters:    pending.Filters,
		Timezone:   pending.Timezone,
	}

	if err := h.service.AssertCanApprove(r.Context(), req); err != nil {
		h.recordAudit(r, req, "approve", false, err.Error())
		h.respondAuthorizationError(w, err)
		return
	}
	h.recordAudit(r, req, "approve", true, "")

	if err := h.store.Delete(r.Context(), body.ApprovalID); err != nil {
		h.logger.Warn("delete pending approval", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": true})
}

// recordAudit persists the decision trail. Failures are logged, never
// surfaced: auditing must not change the authorization outcome.
func (h *Handler) recordAudit(r *http.Request, req Request, kind string, allowed bool, reason string) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(r.Context(), shared.AuthorizationAudit{
		UserID:      req.Caller.UserID,
		RoleID:      req.Caller.RoleID,
		RenderingID: req.Caller.RenderingID,
		Collection:  req.Collection,
		Kind:        kind,
		Action:      req.Action,
		Allowed:     allowed,
		Reason:      reason,
	})
	if err != nil {
		h.logger.Warn("record authorization audit", slog.Any("error", err))
	}
}

// respondAuthorizationError translates the service error taxonomy into HTTP
// problem responses. Approval-related denials carry the approver role list in
// the problem data so clients can route the request to someone who can act.
func (h *Handler) respondAuthorizationError(w http.ResponseWriter, err error) {
	var (
		trigger    *TriggerForbiddenError
		notAllowed *ApprovalNotAllowedError
		invalid    *InvalidConditionError
		fetch      *permissions.FetchError
	)
	switch {
	case errors.As(err, &trigger):
		httpx.Problem(w, http.StatusForbidden, "CustomActionTriggerForbiddenError", err.Error())
	case errors.As(err, &notAllowed):
		httpx.ProblemWithData(w, http.StatusForbidden, "ApprovalNotAllowedError", err.Error(), map[string]any{
			"roleIdsAllowedToApprove": notAllowed.RoleIDsAllowedToApprove,
		})
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "InvalidActionConditionError", err.Error())
	case errors.As(err, &fetch):
		h.logger.Error("permission fetch failed", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
	default:
		h.logger.Error("action authorization failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
