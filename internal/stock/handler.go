package stock

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/platform/httpx"
	"github.com/meridian-wms/meridian/internal/shared"
)

// Handler wires the balance and ledger read surface plus the audited
// direct mutations.
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
	r.Get("/balances", h.listBalances)
	r.Get("/summary", h.summary)
	r.Get("/ledger", h.ledger)
	r.Get("/products/{productID}/movements", h.productMovements)
	r.Post("/adjust", h.adjust)
	r.Post("/reserve", h.reserve)
	r.Post("/release", h.release)
}

type mutationRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	LocationID  int64  `json:"location_id" validate:"gte=0"`
	Quantity    string `json:"quantity" validate:"required"`
	Note        string `json:"note"`
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	filter := BalanceFilter{
		ProductID:   queryInt64(r, "product_id"),
		WarehouseID: queryInt64(r, "warehouse_id"),
	}
	balances, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if balances == nil {
		balances = []Balance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), queryInt64(r, "product_id"), queryInt64(r, "warehouse_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	filter := LedgerFilter{
		ProductID:   queryInt64(r, "product_id"),
		WarehouseID: queryInt64(r, "warehouse_id"),
		Type:        MovementType(r.URL.Query().Get("movement_type")),
		Limit:       int(queryInt64(r, "limit")),
	}
	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) productMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	entries, err := h.service.ProductMovements(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	req, delta, ok := h.decodeMutation(w, r)
	if !ok {
		return
	}
	balance, entry, err := h.service.ApplyDelta(r.Context(), DeltaInput{
		Key:     BalanceKey{ProductID: req.ProductID, WarehouseID: req.WarehouseID, LocationID: req.LocationID},
		Delta:   delta,
		ActorID: shared.ActorFromContext(r.Context()),
		Note:    req.Note,
	})
	if err != nil {
		h.logger.Error("apply delta failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": balance, "ledger_entry": entry})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, h.service.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, h.service.Release)
}

func (h *Handler) mutateReservation(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, key BalanceKey, qty decimal.Decimal, actorID int64) (Balance, error)) {
	req, qty, ok := h.decodeMutation(w, r)
	if !ok {
		return
	}
	if qty.Sign() <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be positive")
		return
	}
	balance, err := fn(r.Context(),
		BalanceKey{ProductID: req.ProductID, WarehouseID: req.WarehouseID, LocationID: req.LocationID},
		qty, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("reservation change failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) decodeMutation(w http.ResponseWriter, r *http.Request) (mutationRequest, decimal.Decimal, bool) {
	var req mutationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return req, decimal.Zero, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, decimal.Zero, false
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity is not a valid number")
		return req, decimal.Zero, false
	}
	return req, qty, true
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
