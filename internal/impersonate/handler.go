package impersonate

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/httpx"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// Handler wires the impersonation endpoints. They are deliberately not behind
// the permission guard: the guard resolves the effective actor, and starting
// must be judged on the real one. The service does that check itself.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers the impersonation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/impersonation/start", h.handleStart)
	r.Post("/impersonation/stop", h.handleStop)
}

type startRequest struct {
	Role         string `json:"role" validate:"required"`
	UniversityID string `json:"university_id" validate:"omitempty,max=100"`
	Plan         string `json:"plan" validate:"omitempty"`
	TTLMinutes   int    `json:"ttl_minutes" validate:"omitempty,min=1,max=120"`
}

type overlayResponse struct {
	AssumedRole         string `json:"assumed_role"`
	AssumedUniversityID string `json:"assumed_university_id,omitempty"`
	AssumedPlan         string `json:"assumed_plan"`
	StartedAt           string `json:"started_at"`
	ExpiresAt           string `json:"expires_at"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req startRequest
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
	plan := authz.Plan("")
	if req.Plan != "" {
		if plan, err = authz.ParsePlan(req.Plan); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}

	overlay, err := h.service.Start(r.Context(), sess, StartInput{
		AssumedRole:         role,
		AssumedUniversityID: req.UniversityID,
		AssumedPlan:         plan,
		TTL:                 time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound), errors.Is(err, ErrNotPermitted):
			httpx.RespondError(w, httpx.ErrForbidden)
		case errors.Is(err, ErrMissingUniversity):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("start impersonation", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	httpx.JSON(w, http.StatusOK, overlayResponse{
		AssumedRole:         string(overlay.AssumedRole),
		AssumedUniversityID: overlay.AssumedUniversityID,
		AssumedPlan:         string(overlay.AssumedPlan),
		StartedAt:           overlay.StartedAt.Format(time.RFC3339),
		ExpiresAt:           overlay.StartedAt.Add(overlay.TTL).Format(time.RFC3339),
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	h.service.Stop(sess)
	w.WriteHeader(http.StatusNoContent)
}
