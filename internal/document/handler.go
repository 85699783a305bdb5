package document

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/platform/httpx"
	"github.com/meridian-wms/meridian/internal/shared"
)

// Handler exposes the document REST surface.
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

// MountRoutes registers document routes on the router. Nested callbacks
// attach additional routes under /{documentID}; the fulfillment executor
// mounts its endpoints this way.
func (h *Handler) MountRoutes(r chi.Router, nested ...func(chi.Router)) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{documentID}", func(r chi.Router) {
		for _, fn := range nested {
			fn(r)
		}
		r.Get("/", h.get)
		r.Delete("/", h.delete)
		r.Post("/status", h.updateStatus)
		r.Post("/cancel", h.cancel)
		r.Route("/lines", func(r chi.Router) {
			r.Post("/", h.addLine)
			r.Route("/{lineID}", func(r chi.Router) {
				r.Patch("/", h.updateLine)
				r.Delete("/", h.deleteLine)
				r.Patch("/status", h.patchLineStatus)
			})
		})
	})
}

type createRequest struct {
	Type            string            `json:"type" validate:"required"`
	WarehouseID     int64             `json:"warehouse_id" validate:"required,gt=0"`
	DestWarehouseID int64             `json:"dest_warehouse_id" validate:"omitempty,gt=0"`
	FromLocationID  int64             `json:"from_location_id" validate:"omitempty,gt=0"`
	ToLocationID    int64             `json:"to_location_id" validate:"omitempty,gt=0"`
	ContactID       int64             `json:"contact_id" validate:"omitempty,gt=0"`
	ScheduledAt     *time.Time        `json:"scheduled_at"`
	Notes           string            `json:"notes" validate:"max=2000"`
	ResponsibleID   int64             `json:"responsible_id" validate:"omitempty,gt=0"`
	Extensions      shared.Extensions `json:"extensions"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		Type:            Type(req.Type),
		WarehouseID:     req.WarehouseID,
		DestWarehouseID: req.DestWarehouseID,
		FromLocationID:  req.FromLocationID,
		ToLocationID:    req.ToLocationID,
		ContactID:       req.ContactID,
		Notes:           req.Notes,
		ResponsibleID:   req.ResponsibleID,
		Extensions:      req.Extensions,
		ActorID:         shared.ActorFromContext(r.Context()),
	}
	if req.ScheduledAt != nil {
		input.ScheduledAt = *req.ScheduledAt
	}
	doc, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Type:        Type(r.URL.Query().Get("type")),
		Status:      Status(r.URL.Query().Get("status")),
		WarehouseID: queryInt64(r, "warehouse_id"),
		Limit:       int(queryInt64(r, "limit")),
		Offset:      int(queryInt64(r, "offset")),
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	httpx.JSON(w, http.StatusOK, docs)
}

type documentResponse struct {
	Document Document `json:"document"`
	Lines    []Line   `json:"lines"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if lines == nil {
		lines = []Line{}
	}
	httpx.JSON(w, http.StatusOK, documentResponse{Document: doc, Lines: lines})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lineRequest struct {
	ProductID  int64             `json:"product_id" validate:"required,gt=0"`
	Quantity   string            `json:"quantity" validate:"required"`
	UOM        string            `json:"uom" validate:"max=32"`
	UnitCost   string            `json:"unit_cost"`
	Extensions shared.Extensions `json:"extensions"`
}

func (h *Handler) decodeLine(w http.ResponseWriter, r *http.Request) (LineInput, bool) {
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return LineInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return LineInput{}, false
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal string")
		return LineInput{}, false
	}
	cost := decimal.Zero
	if req.UnitCost != "" {
		cost, err = decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal string")
			return LineInput{}, false
		}
	}
	return LineInput{
		ProductID:  req.ProductID,
		Quantity:   qty,
		UOM:        req.UOM,
		UnitCost:   cost,
		Extensions: req.Extensions,
	}, true
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	docID, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	input, ok := h.decodeLine(w, r)
	if !ok {
		return
	}
	line, err := h.service.AddLine(r.Context(), docID, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	docID, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	input, ok := h.decodeLine(w, r)
	if !ok {
		return
	}
	line, err := h.service.UpdateLine(r.Context(), docID, lineID, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	docID, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	if err := h.service.DeleteLine(r.Context(), docID, lineID, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lineStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) patchLineStatus(w http.ResponseWriter, r *http.Request) {
	docID, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req lineStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.PatchLineStatus(r.Context(), docID, lineID, LineStatus(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt64(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
