// Package handler serves the read-only operations API: health, per-subject
// status, address correlation, restriction tables and the recent audit
// trail.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// StatusReader returns a consistent view of one subject.
type StatusReader interface {
	Status(ctx context.Context, subject id.SubjectID) models.SubjectStatus
}

// LedgerReader exposes the ledger's read side.
type LedgerReader interface {
	Now() time.Time
	Snapshot(kind models.Kind) []models.Restriction
	AddressOf(subject id.SubjectID) (string, bool)
	Correlate(address string) []id.SubjectID
}

// AuditReader lists recent audit events, newest last.
type AuditReader interface {
	List(ctx context.Context, limit int) ([]audit.Event, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	logger *slog.Logger
	status StatusReader
	ledger LedgerReader
	events AuditReader
	checks map[string]HealthCheck
}

// New creates the ops handler. events may be nil when no audit trail is kept.
func New(status StatusReader, ledger LedgerReader, events AuditReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger: logger,
		status: status,
		ledger: ledger,
		events: events,
		checks: make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency probe reported by /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Register registers the ops routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/subjects/{id}", h.handleSubject)
		r.Get("/addresses/{address}/subjects", h.handleCorrelate)
		r.Get("/restrictions/{kind}", h.handleRestrictions)
		r.Get("/audit/recent", h.handleAuditRecent)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				"request_id", requestcontext.RequestID(ctx),
				"check", name,
				"error", err,
			)
			if resp.Failing == nil {
				resp.Failing = map[string]string{}
			}
			resp.Failing[name] = err.Error()
			resp.Status = "degraded"
		}
	}
	status := http.StatusOK
	if resp.Failing != nil {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status := h.status.Status(r.Context(), subject)
	resp := SubjectResponse{SubjectStatus: status}
	if address, ok := h.ledger.AddressOf(subject); ok {
		resp.Address = address
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := chi.URLParam(r, "address")
	if address == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "address is required"))
		return
	}
	resp := CorrelateResponse{Address: address, Subjects: []CorrelatedSubject{}}
	for _, subject := range h.ledger.Correlate(address) {
		status := h.status.Status(ctx, subject)
		resp.Subjects = append(resp.Subjects, CorrelatedSubject{
			Subject: subject,
			Banned:  status.IsBanned(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRestrictions(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now := h.ledger.Now()
	records := h.ledger.Snapshot(kind)
	resp := RestrictionsResponse{Kind: kind, Restrictions: make([]RestrictionView, 0, len(records))}
	for _, record := range records {
		resp.Restrictions = append(resp.Restrictions, RestrictionView{
			Restriction: record,
			Active:      record.IsActiveAt(now),
			Remaining:   models.FormatRemaining(record.RemainingAt(now)),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httputil.WriteJSON(w, http.StatusOK, AuditResponse{Events: []audit.Event{}})
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be between 1 and "+strconv.Itoa(maxAuditLimit)))
			return
		}
		limit = n
	}

	events, err := h.events.List(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit trail unavailable"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditResponse{Events: events})
}
