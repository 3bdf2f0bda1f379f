package job

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/model"
	"creditgate/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvoiceExpiryJob moves CREATED invoices past their gateway lifetime to
// EXPIRED. A late payment still settles an expired invoice.
type InvoiceExpiryJob struct {
	invoiceRepo *repository.InvoiceRepository
	log         *zap.Logger
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

func NewInvoiceExpiryJob(db *gorm.DB, interval time.Duration, log *zap.Logger) *InvoiceExpiryJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &InvoiceExpiryJob{
		invoiceRepo: repository.NewInvoiceRepository(db),
		log:         log.Named("invoice_expiry"),
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   100,
		now:         time.Now,
	}
}

func (j *InvoiceExpiryJob) Start(ctx context.Context) {
	j.log.Info("invoice expiry job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("invoice expiry job stopping: context done")
			return
		case <-j.stopCh:
			j.log.Info("invoice expiry job stopped")
			return
		case <-ticker.C:
			j.ExpireInvoices(ctx)
		}
	}
}

func (j *InvoiceExpiryJob) Stop() {
	close(j.stopCh)
}

// ExpireInvoices runs one pass and returns the number of invoices expired.
func (j *InvoiceExpiryJob) ExpireInvoices(ctx context.Context) int {
	invoices, err := j.invoiceRepo.GetExpiredInvoices(ctx, j.now(), j.batchSize)
	if err != nil {
		j.log.Error("load expired invoices failed", zap.Error(err))
		return 0
	}
	if len(invoices) == 0 {
		return 0
	}

	expired := 0
	for _, inv := range invoices {
		err := j.invoiceRepo.UpdateStatus(ctx, nil, inv.OrderID, model.InvoiceStatusCreated, model.InvoiceStatusExpired)
		if err != nil {
			// paid or failed since the scan
			if !errors.Is(err, repository.ErrInvoiceStatusInvalid) {
				j.log.Error("expire invoice failed", zap.String("order_id", inv.OrderID), zap.Error(err))
			}
			continue
		}
		expired++
		j.log.Info("invoice expired",
			zap.String("order_id", inv.OrderID),
			zap.String("platform_id", inv.PlatformID),
			zap.Int64("credits", inv.CreditCount))
	}
	return expired
}
