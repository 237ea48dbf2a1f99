package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/httpx"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	maxDateRangeHours = 24 * 365
)

// HistoryService defines the business contract for role history data.
type HistoryService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Exporter writes role history exports.
type Exporter interface {
	WriteCSV(entries []audit.Entry) ([]byte, error)
}

// Handler menangani permintaan riwayat perubahan role.
type Handler struct {
	logger   *slog.Logger
	service  HistoryService
	exporter Exporter
	now      func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service HistoryService, exporter Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		exporter: exporter,
		now:      time.Now,
	}
}

type entryResponse struct {
	ID               string `json:"id"`
	TargetIdentityID string `json:"target_identity_id"`
	TargetName       string `json:"target_name"`
	TargetEmail      string `json:"target_email"`
	OldRole          string `json:"old_role"`
	NewRole          string `json:"new_role"`
	PerformedByID    string `json:"performed_by_id"`
	PerformedByName  string `json:"performed_by_name"`
	Reason           string `json:"reason,omitempty"`
	Timestamp        string `json:"timestamp"`
}

type listResponse struct {
	Entries  []entryResponse `json:"entries"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasNext  bool            `json:"has_next"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "list role history", err)
		return
	}
	entries := make([]entryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, toEntryResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Entries:  entries,
		Page:     result.Paging.Page,
		PageSize: result.Paging.PageSize,
		HasNext:  result.Paging.HasNext,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export role history", err)
		return
	}
	csvBytes, err := h.exporter.WriteCSV(entries)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.ExportFilename(h.now())+`"`)
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	query := r.URL.Query()
	filters := audit.Filters{
		Identity:    strings.TrimSpace(query.Get("identity")),
		PerformedBy: strings.TrimSpace(query.Get("performedBy")),
		PageSize:    defaultPageSize,
		Page:        1,
	}

	if v := strings.TrimSpace(query.Get("from")); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, validationError{field: "from"}
		}
		filters.From = from
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, validationError{field: "to"}
		}
		// Include the whole "to" day.
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return audit.Filters{}, validationError{field: "range"}
		}
		if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
			return audit.Filters{}, validationError{field: "range"}
		}
	}

	if v := strings.TrimSpace(query.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.Filters{}, validationError{field: "page"}
		}
		filters.Page = parsed
	}
	if v := strings.TrimSpace(query.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.Filters{}, validationError{field: "page_size"}
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		filters.PageSize = parsed
	}

	return filters, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid filter: "+v.field)
		return
	}
	h.handleServerError(w, "validate filters", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func toEntryResponse(entry audit.Entry) entryResponse {
	return entryResponse{
		ID:               entry.ID,
		TargetIdentityID: entry.TargetIdentityID,
		TargetName:       entry.TargetName,
		TargetEmail:      entry.TargetEmail,
		OldRole:          string(entry.OldRole),
		NewRole:          string(entry.NewRole),
		PerformedByID:    entry.PerformedByID,
		PerformedByName:  entry.PerformedByName,
		Reason:           entry.Reason,
		Timestamp:        entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
