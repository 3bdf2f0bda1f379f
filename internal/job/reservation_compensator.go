package job

import (
	"context"
	"time"

	"creditgate/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Releaser gives a reserved credit back.
type Releaser interface {
	Release(ctx context.Context, reservationNo string) (bool, error)
}

// ReservationCompensator releases reservations left PENDING by a process that
// died between reserving and settling.
type ReservationCompensator struct {
	reservationRepo *repository.ReservationRepository
	ledger          Releaser
	timeout         time.Duration
	log             *zap.Logger
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
	now             func() time.Time
}

func NewReservationCompensator(db *gorm.DB, ledger Releaser, timeout, interval time.Duration, log *zap.Logger) *ReservationCompensator {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReservationCompensator{
		reservationRepo: repository.NewReservationRepository(db),
		ledger:          ledger,
		timeout:         timeout,
		log:             log.Named("reservation_compensator"),
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       50,
		now:             time.Now,
	}
}

func (j *ReservationCompensator) Start(ctx context.Context) {
	j.log.Info("reservation compensator started",
		zap.Duration("interval", j.interval), zap.Duration("timeout", j.timeout))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("reservation compensator stopping: context done")
			return
		case <-j.stopCh:
			j.log.Info("reservation compensator stopped")
			return
		case <-ticker.C:
			j.Compensate(ctx)
		}
	}
}

func (j *ReservationCompensator) Stop() {
	close(j.stopCh)
}

// Compensate runs one pass and returns the number of reservations released.
func (j *ReservationCompensator) Compensate(ctx context.Context) int {
	stale, err := j.reservationRepo.GetStalePending(ctx, j.now().Add(-j.timeout), j.batchSize)
	if err != nil {
		j.log.Error("load stale reservations failed", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	j.log.Info("found stale reservations", zap.Int("count", len(stale)))
	released := 0
	for _, r := range stale {
		ok, err := j.ledger.Release(ctx, r.ReservationNo)
		if err != nil {
			j.log.Error("release stale reservation failed",
				zap.String("reservation_no", r.ReservationNo), zap.Error(err))
			continue
		}
		if ok {
			released++
			j.log.Warn("stale reservation released",
				zap.String("reservation_no", r.ReservationNo),
				zap.String("platform_id", r.PlatformID),
				zap.Time("created_at", r.CreatedAt))
		}
	}
	return released
}
