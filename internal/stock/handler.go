package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gescom-erp/gescom/internal/platform/httpx"
	"github.com/gescom-erp/gescom/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{productID}/on-hand", h.handleOnHand)
	r.Get("/stock/{productID}/ledger", h.handleLedger)
	r.Post("/stock/adjustments", h.handleAdjustment)
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.tenantAndProduct(w, r)
	if !ok {
		return
	}
	qty, err := h.service.OnHand(r.Context(), tenantID, productID)
	if err != nil {
		h.logger.Error("on-hand lookup failed", "tenant_id", tenantID, "product_id", productID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "on_hand": qty})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.tenantAndProduct(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Ledger(r.Context(), tenantID, productID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type adjustmentRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required"`
	Note      string  `json:"note" validate:"max=500"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return
	}

	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	movement, err := h.service.PostAdjustment(r.Context(), Movement{
		TenantID:  tenantID,
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Error("adjustment failed", "tenant_id", tenantID, "product_id", req.ProductID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) tenantAndProduct(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant not resolved")
		return 0, 0, false
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return 0, 0, false
	}
	return tenantID, productID, true
}
