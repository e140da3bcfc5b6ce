package transfer

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the stock transfer endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transfers", h.list)
	r.Post("/transfers", h.create)
	r.Get("/transfers/{id}", h.get)
	r.Post("/transfers/{id}/approve", h.decide(h.serviceApprove))
	r.Post("/transfers/{id}/reject", h.decide(h.serviceReject))
	r.Post("/transfers/{id}/cancel", h.decide(h.serviceCancel))
	r.Post("/transfers/{id}/complete", h.decide(h.serviceComplete))
	r.Post("/lines/{lineID}/receive", h.receive)
	r.Post("/lines/{lineID}/return", h.returnLine)
	r.Get("/lines/{lineID}/serials", h.listSerials)
}

type createTransferRequest struct {
	DestinationWarehouseID int64                       `json:"destination_warehouse_id" validate:"required"`
	TransferDate           *time.Time                  `json:"transfer_date"`
	Note                   string                      `json:"note"`
	Lines                  []createTransferLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createTransferLineRequest struct {
	OriginWarehouseID int64    `json:"origin_warehouse_id" validate:"required"`
	ProductVariantID  int64    `json:"product_variant_id" validate:"required"`
	Qty               float64  `json:"qty" validate:"required,gt=0"`
	SerialNumbers     []string `json:"serial_numbers"`
}

type lineQtyRequest struct {
	Qty           float64  `json:"qty" validate:"required,gt=0"`
	SerialNumbers []string `json:"serial_numbers"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		CompanyID:              ident.CompanyID,
		DestinationWarehouseID: req.DestinationWarehouseID,
		Note:                   req.Note,
		ActorID:                ident.UserID,
		IdempotencyKey:         r.Header.Get("Idempotency-Key"),
	}
	if req.TransferDate != nil {
		input.TransferDate = *req.TransferDate
	}
	for _, ln := range req.Lines {
		input.Lines = append(input.Lines, CreateLineInput(ln))
	}
	results, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transfers": results})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	transfers, total, err := h.service.List(r.Context(), ident.CompanyID, filter)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transfers":  transfers,
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
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	transfer, lines, err := h.service.Get(r.Context(), ident.CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer": transfer, "lines": lines})
}

type decideFunc func(r *http.Request, ident shared.Identity, transferID int64) (StockTransfer, error)

func (h *Handler) serviceApprove(r *http.Request, ident shared.Identity, id int64) (StockTransfer, error) {
	return h.service.Approve(r.Context(), ident.CompanyID, id, ident.UserID)
}

func (h *Handler) serviceReject(r *http.Request, ident shared.Identity, id int64) (StockTransfer, error) {
	return h.service.Reject(r.Context(), ident.CompanyID, id, ident.UserID)
}

func (h *Handler) serviceCancel(r *http.Request, ident shared.Identity, id int64) (StockTransfer, error) {
	return h.service.Cancel(r.Context(), ident.CompanyID, id, ident.UserID)
}

func (h *Handler) serviceComplete(r *http.Request, ident shared.Identity, id int64) (StockTransfer, error) {
	return h.service.Complete(r.Context(), ident.CompanyID, id, ident.UserID)
}

func (h *Handler) decide(fn decideFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
			return
		}
		transfer, err := fn(r, ident, id)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, transfer)
	}
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	h.lineMutation(w, r, h.service.Receive)
}

func (h *Handler) returnLine(w http.ResponseWriter, r *http.Request) {
	h.lineMutation(w, r, h.service.Return)
}

func (h *Handler) lineMutation(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, companyID, lineID int64, qty float64, serials []string, actorID int64) (ReceiveResult, error)) {
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
	var req lineQtyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	result, err := fn(r.Context(), ident.CompanyID, lineID, req.Qty, req.SerialNumbers, ident.UserID)
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
