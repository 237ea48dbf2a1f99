package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/httpx"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// Pusher propagates an admin role edit back to the identity provider.
type Pusher interface {
	EnqueuePush(ctx context.Context, identityID string) error
}

// Handler wires HTTP endpoints for user role management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	pusher    Pusher
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pusher Pusher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		pusher:    pusher,
		validator: validator.New(),
	}
}

// MountRoutes registers user management routes.
func (h *Handler) MountRoutes(r chi.Router, guard authz.Middleware) {
	r.Group(func(gr chi.Router) {
		gr.Use(guard.Require("users.accounts.view"))
		gr.Get("/users/{identityID}", h.handleGet)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(guard.Require("users.roles.manage"))
		gr.Post("/users/{identityID}/role", h.handleChangeRole)
	})
}

type userResponse struct {
	IdentityID   string `json:"identity_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	UniversityID string `json:"university_id,omitempty"`
	Plan         string `json:"plan"`
	Version      int64  `json:"version"`
	LastSyncedAt string `json:"last_synced_at"`
	PendingPush  bool   `json:"pending_push"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "identityID"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get role record", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(rec))
}

type changeRoleRequest struct {
	Role         string `json:"role" validate:"required"`
	UniversityID string `json:"university_id" validate:"omitempty,max=100"`
	Plan         string `json:"plan" validate:"omitempty"`
	Reason       string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	plan, err := authz.ParsePlan(req.Plan)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if role.RequiresUniversity() && req.UniversityID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "university_id required for university-scoped roles")
		return
	}

	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	performedByName := actor.ID
	if performer, err := h.service.Get(r.Context(), actor.ID); err == nil {
		performedByName = performer.DisplayName
	}

	identityID := chi.URLParam(r, "identityID")
	outcome, err := h.service.ChangeRole(r.Context(), ChangeRoleInput{
		IdentityID:      identityID,
		NewRole:         role,
		NewUniversityID: req.UniversityID,
		NewPlan:         plan,
		Reason:          reasonOrDefault(req.Reason),
		PerformedByID:   actor.ID,
		PerformedByName: performedByName,
		PendingPush:     true,
	})
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrStaleVersion):
			httpx.RespondError(w, httpx.ErrConflict)
		default:
			h.logger.Error("change role", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	if outcome.Changed && h.pusher != nil {
		if err := h.pusher.EnqueuePush(r.Context(), identityID); err != nil {
			// The record and audit entry are committed; the drift scan will
			// pick up the unpushed change if the queue is unavailable.
			h.logger.Warn("enqueue role push", slog.String("identity", identityID), slog.Any("error", err))
		}
	}

	httpx.JSON(w, http.StatusOK, toUserResponse(outcome.Record))
}

func toUserResponse(rec Record) userResponse {
	return userResponse{
		IdentityID:   rec.IdentityID,
		Email:        rec.Email,
		DisplayName:  rec.DisplayName,
		Role:         string(rec.Role),
		UniversityID: rec.UniversityID,
		Plan:         string(rec.Plan),
		Version:      rec.Version,
		LastSyncedAt: rec.LastSyncedAt.UTC().Format(timeLayout),
		PendingPush:  rec.PendingPush,
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "admin update"
	}
	return reason
}
