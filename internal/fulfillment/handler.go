package fulfillment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/platform/httpx"
	"github.com/meridian-wms/meridian/internal/shared"
	"github.com/meridian-wms/meridian/internal/stock"
)

// Handler exposes the executor endpoints under a document.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountDocumentRoutes registers the executor routes on a router already
// scoped to /documents/{documentID}.
func (h *Handler) MountDocumentRoutes(r chi.Router) {
	r.Post("/receive", h.execute(h.service.ExecuteReceipt))
	r.Post("/ship", h.execute(h.service.ExecuteDelivery))
	r.Post("/transfer", h.execute(h.service.ExecuteTransfer))
	r.Post("/count", h.execute(h.service.ExecuteStockCount))
	r.Post("/complete", h.complete)
}

type executeRequest struct {
	Lines []executeLineRequest `json:"lines" validate:"dive"`
}

type executeLineRequest struct {
	LineID         int64  `json:"line_id" validate:"required,gt=0"`
	ActualQuantity string `json:"actual_quantity" validate:"required"`
}

func (h *Handler) execute(fn func(ctx context.Context, input Input) (Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := strconv.ParseInt(chi.URLParam(r, "documentID"), 10, 64)
		if err != nil || docID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "documentID must be a positive integer")
			return
		}

		// body optional: no body means "fulfill as requested"
		var req executeRequest
		if decErr := httpx.DecodeJSON(r, &req); decErr != nil && !errors.Is(decErr, io.EOF) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}

		input := Input{
			DocumentID:     docID,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			ActorID:        shared.ActorFromContext(r.Context()),
		}
		for _, lr := range req.Lines {
			qty, err := decimal.NewFromString(lr.ActualQuantity)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actual_quantity must be a decimal string")
				return
			}
			input.Lines = append(input.Lines, LineUpdate{LineID: lr.LineID, ActualQuantity: qty})
		}

		result, err := fn(r.Context(), input)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if result.Entries == nil {
			result.Entries = []stock.LedgerEntry{}
		}
		httpx.JSON(w, http.StatusOK, result)
	}
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	docID, err := strconv.ParseInt(chi.URLParam(r, "documentID"), 10, 64)
	if err != nil || docID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "documentID must be a positive integer")
		return
	}
	doc, err := h.service.Complete(r.Context(), docID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}
