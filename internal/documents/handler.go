package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gescom-erp/gescom/internal/observability"
	"github.com/gescom-erp/gescom/internal/platform/httpx"
	"github.com/gescom-erp/gescom/internal/shared"
)

// Handler wires HTTP endpoints for the document module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs the document handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.handleCreate)
	r.Get("/documents", h.handleList)
	r.Get("/documents/{id}", h.handleGet)
	r.Put("/documents/{id}/lines", h.handleUpdateLines)
	r.Post("/documents/{id}/validate", h.handleValidate)
	r.Post("/documents/{id}/cancel", h.handleCancel)
	r.Get("/documents/{id}/fulfillment", h.handleFulfillment)
	r.Post("/documents/convert", h.handleConvert)
	r.Post("/documents/totals", h.handlePreviewTotals)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}

	var req CreateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	doc, err := h.service.Create(r.Context(), tenantID, req, actorID(r))
	if err != nil {
		h.logger.Error("create document failed", "tenant_id", tenantID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}

	req := ListRequest{TenantID: tenantID}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		t := Type(v)
		if !t.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown document type")
			return
		}
		req.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := Status(v)
		req.Status = &s
	}
	if v := q.Get("party_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid party_id")
			return
		}
		req.PartyID = &id
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	docs, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list documents failed", "tenant_id", tenantID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdateLines(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}

	var req struct {
		Lines []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	doc, err := h.service.UpdateLines(r.Context(), tenantID, id, req.Lines, actorID(r))
	if err != nil {
		h.logger.Error("update lines failed", "tenant_id", tenantID, "document_id", id, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Validate(r.Context(), tenantID, id, actorID(r))
	if err != nil {
		h.logger.Error("validate document failed", "tenant_id", tenantID, "document_id", id, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = httpx.DecodeJSON(r, &req)

	doc, err := h.service.Cancel(r.Context(), tenantID, id, actorID(r), req.Reason)
	if err != nil {
		h.logger.Error("cancel document failed", "tenant_id", tenantID, "document_id", id, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	state, err := h.service.Fulfillment(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": state})
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}

	var req ConvertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	// A replayed conversion carrying the same Idempotency-Key is answered
	// with 409 instead of deriving a second successor. The key is claimed
	// inside the conversion transaction, so a failed attempt releases it.
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Convert(r.Context(), tenantID, req, actorID(r))
	if err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "request already processed")
			return
		}
		h.logger.Error("convert document failed",
			"tenant_id", tenantID, "source_id", req.SourceID, "target_type", req.TargetType, "error", err)
		h.metrics.ObserveConversion("unknown", string(req.TargetType), "error")
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveConversion(string(result.Source.Type), string(req.TargetType), "ok")
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePreviewTotals(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}

	var req struct {
		Lines []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.PreviewTotals(r.Context(), tenantID, req.Lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) tenantAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return 0, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return 0, 0, false
	}
	return tenantID, id, true
}

// actorID reads the already-authenticated actor from the gateway header.
// Authentication itself happens upstream.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
