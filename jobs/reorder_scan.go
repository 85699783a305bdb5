package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-wms/meridian/internal/jobs"
	"github.com/meridian-wms/meridian/internal/reorder"
	"github.com/meridian-wms/meridian/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReorderScanJob runs the reorder analyzer and records its findings.
type ReorderScanJob struct {
	Service *reorder.Service
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReorderScanJob initialises the reorder scan handler.
func NewReorderScanJob(service *reorder.Service, audit AuditPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	return &ReorderScanJob{
		Service: service,
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reorder scan logic.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ReorderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskReorderScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("warehouse_id", payload.WarehouseID))
	logger.Info("starting reorder scan")

	report, err := j.Service.Candidates(ctx, payload.WarehouseID)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, c := range report.OutOfStock {
		logger.Warn("product out of stock",
			slog.String("sku", c.SKU),
			slog.Int64("product_id", c.ProductID),
			slog.Int64("warehouse_id", c.WarehouseID),
		)
	}
	j.metrics().SetLowStock(payload.WarehouseID, len(report.NeedsReplenishment), len(report.OutOfStock))

	if j.Audit != nil && (len(report.NeedsReplenishment) > 0 || len(report.OutOfStock) > 0) {
		_ = j.Audit.Record(ctx, shared.AuditLog{
			Action:   "reorder:scan",
			Entity:   "warehouse",
			EntityID: formatInt(payload.WarehouseID),
			Meta: map[string]any{
				"needs_replenishment": len(report.NeedsReplenishment),
				"out_of_stock":        len(report.OutOfStock),
			},
		})
	}

	logger.Info("completed reorder scan",
		slog.Int("needs_replenishment", len(report.NeedsReplenishment)),
		slog.Int("out_of_stock", len(report.OutOfStock)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ReorderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReorderScan))
	}
	return slog.Default().With(slog.String("job", TaskReorderScan))
}

func (j *ReorderScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReorderScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
