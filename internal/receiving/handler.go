package receiving

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the goods receipt endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the receiving handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receipts", h.list)
	r.Post("/receipts", h.create)
	r.Post("/receipts/from-order/{orderID}", h.createFromOrder)
	r.Get("/receipts/{id}", h.get)
	r.Post("/receipts/{id}/promote", h.promote)
	r.Post("/lines/{lineID}/receive", h.receiveLine)
	r.Post("/lines/{lineID}/return", h.returnLine)
	r.Get("/lines/{lineID}/serials", h.listSerials)
	r.Delete("/lines/{lineID}/serials/{serial}", h.removeSerial)
}

type createReceiptRequest struct {
	WarehouseID int64                      `json:"warehouse_id" validate:"required"`
	Number      string                     `json:"number"`
	Note        string                     `json:"note"`
	Lines       []createReceiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createReceiptLineRequest struct {
	ProductVariantID int64    `json:"product_variant_id" validate:"required"`
	ExpectedQty      float64  `json:"expected_qty" validate:"required,gt=0"`
	UnitCost         float64  `json:"unit_cost" validate:"gte=0"`
	HasSerials       bool     `json:"has_serials"`
	SKU              string   `json:"sku"`
	Barcode          string   `json:"barcode"`
	CriticalLevelQty *float64 `json:"critical_level_qty"`
}

type receiveLineRequest struct {
	QtyDelta float64              `json:"qty_delta"`
	Serials  []serialInputRequest `json:"serials" validate:"dive"`
}

type serialInputRequest struct {
	SerialNumber   string     `json:"serial_number"`
	BatchNumber    string     `json:"batch_number"`
	ManufacturedAt *time.Time `json:"manufactured_at"`
	ExpiredAt      *time.Time `json:"expired_at"`
}

type returnLineRequest struct {
	Qty  float64 `json:"qty" validate:"required,gt=0"`
	Note string  `json:"note"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		CompanyID:   ident.CompanyID,
		WarehouseID: req.WarehouseID,
		Number:      req.Number,
		Note:        req.Note,
		ActorID:     ident.UserID,
	}
	for _, ln := range req.Lines {
		input.Lines = append(input.Lines, CreateLineInput(ln))
	}
	receipt, lines, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create receipt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"receipt": receipt, "lines": lines})
}

func (h *Handler) createFromOrder(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	receipt, lines, err := h.service.CreateFromPurchaseOrder(r.Context(), ident.CompanyID, orderID, ident.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"receipt": receipt, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	receipts, total, err := h.service.List(r.Context(), ident.CompanyID, filter)
	if err != nil {
		h.logger.Error("list receipts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"receipts":   receipts,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	receipt, lines, err := h.service.Get(r.Context(), ident.CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": receipt, "lines": lines})
}

func (h *Handler) receiveLine(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var req receiveLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	serials := make([]ledger.SerialInput, 0, len(req.Serials))
	for _, s := range req.Serials {
		serials = append(serials, ledger.SerialInput(s))
	}
	result, err := h.service.ReceiveLine(r.Context(), ident.CompanyID, lineID, req.QtyDelta, serials, ident.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) returnLine(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var req returnLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ReturnLine(r.Context(), ident.CompanyID, lineID, req.Qty, req.Note, ident.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listSerials(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	serials, err := h.service.GetLineSerials(r.Context(), ident.CompanyID, lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"serials": serials})
}

func (h *Handler) removeSerial(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	result, err := h.service.RemoveSerial(r.Context(), ident.CompanyID, lineID, chi.URLParam(r, "serial"), ident.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	receipt, err := h.service.PromoteToWarehouse(r.Context(), ident.CompanyID, id, ident.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}
