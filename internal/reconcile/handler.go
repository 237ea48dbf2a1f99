package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/httpx"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// Handler wires the diagnostic workflow endpoints.
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

// MountRoutes registers the diagnostics routes.
func (h *Handler) MountRoutes(r chi.Router, guard authz.Middleware) {
	r.Group(func(gr chi.Router) {
		gr.Use(guard.Require("diagnostics.run"))
		gr.Post("/diagnostics/diagnose", h.handleDiagnose)
		gr.Post("/diagnostics/remediate", h.handleRemediate)
	})
}

type diagnoseRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	report, err := h.service.Diagnose(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrRemediationInFlight):
			httpx.Problem(w, http.StatusConflict, "Remediation In Progress",
				"a remediation for this identity is already running")
		default:
			h.logger.Error("diagnose identity", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type remediateRequest struct {
	IdentityID string `json:"identity_id" validate:"required,max=100"`
	Direction  string `json:"direction" validate:"required"`
}

type remediateResponse struct {
	Status  string `json:"status"`
	Applied bool   `json:"applied"`
	Report  Report `json:"report"`
}

func (h *Handler) handleRemediate(w http.ResponseWriter, r *http.Request) {
	var req remediateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	direction, err := ParseDirection(req.Direction)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	outcome, err := h.service.Remediate(r.Context(), RemediateInput{
		IdentityID:      req.IdentityID,
		Direction:       direction,
		PerformedByID:   actor.ID,
		PerformedByName: actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrRemediationInFlight):
			httpx.Problem(w, http.StatusConflict, "Remediation In Progress",
				fmt.Sprintf("a remediation for this identity is already running (workflow state: %s)",
					h.service.WorkflowState(req.IdentityID)))
		case errors.Is(err, ErrBadSourceClaim):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unusable Source Claim", err.Error())
		default:
			h.logger.Error("remediate identity",
				slog.String("identity", req.IdentityID), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	if outcome.Pending {
		// The push runs in the background; confirmation lands in the audit
		// log once the provider accepts it.
		httpx.JSON(w, http.StatusAccepted, remediateResponse{
			Status: "pending", Report: outcome.Report,
		})
		return
	}
	status := "synced"
	if outcome.Report.Mismatch {
		status = "mismatch"
	}
	httpx.JSON(w, http.StatusOK, remediateResponse{
		Status: status, Applied: outcome.Applied, Report: outcome.Report,
	})
}
