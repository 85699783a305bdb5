package reorder

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-wms/meridian/internal/platform/httpx"
)

// Handler exposes the reorder read endpoints. Concurrent requests for the
// same warehouse collapse onto one computation.
type Handler struct {
	logger  *slog.Logger
	service *Service
	group   singleflight.Group
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reorder routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/candidates", h.candidates)
}

func (h *Handler) candidates(w http.ResponseWriter, r *http.Request) {
	var warehouseID int64
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a positive integer")
			return
		}
		warehouseID = id
	}

	result, err, _ := h.singleflightBuild(r.Context(), candidatesKey(warehouseID), func(ctx context.Context) (interface{}, error) {
		return h.service.Candidates(ctx, warehouseID)
	})
	if err != nil {
		h.logger.Error("reorder candidates", "warehouse_id", warehouseID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) singleflightBuild(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := h.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
