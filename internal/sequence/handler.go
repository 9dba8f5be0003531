package sequence

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gescom-erp/gescom/internal/observability"
	"github.com/gescom-erp/gescom/internal/platform/httpx"
	"github.com/gescom-erp/gescom/internal/shared"
)

// Handler wires HTTP endpoints for sequence numbers.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs the sequence handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sequences/{name}/preview", h.handlePreview)
	r.Post("/sequences/{name}/next", h.handleNext)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}
	number, err := h.service.Preview(r.Context(), tenantID, chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"number": number, "reserved": false})
}

// handleNext mints a number outside any document transaction. An abandoned
// number becomes a gap, which is accepted.
func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}
	name := chi.URLParam(r, "name")
	number, err := h.service.Next(r.Context(), tenantID, name)
	if err != nil {
		h.logger.Error("mint number failed", "tenant_id", tenantID, "sequence", name, "error", err)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveNumberIssued(name)
	httpx.JSON(w, http.StatusCreated, map[string]any{"number": number})
}
