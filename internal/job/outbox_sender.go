package job

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/metrics"
	"creditgate/internal/model"
	"creditgate/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errNoSink = errors.New("no sink for topic")

const (
	sentRetention = 7 * 24 * time.Hour
	purgeEvery    = time.Hour
)

// Sink delivers one outbox message. The Kafka publisher and the Telegram
// notifier both satisfy it.
type Sink interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender drains PENDING outbox messages to the sink registered for
// their topic. Delivery is at least once.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	sinks      map[string]Sink
	fallback   Sink
	maxRetry   int
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	lastPurge  time.Time
	now        func() time.Time
}

func NewOutboxSender(db *gorm.DB, interval time.Duration, maxRetry int, log *zap.Logger) *OutboxSender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		sinks:      make(map[string]Sink),
		maxRetry:   maxRetry,
		log:        log.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		now:        time.Now,
	}
}

// Route sends topic to sink. Call before Start.
func (s *OutboxSender) Route(topic string, sink Sink) *OutboxSender {
	s.sinks[topic] = sink
	return s
}

// Fallback receives every topic without a route.
func (s *OutboxSender) Fallback(sink Sink) *OutboxSender {
	s.fallback = sink
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender stopping: context done")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
			s.purge(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending makes one delivery pass and returns how many messages were
// sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending messages failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

// purge drops delivered messages past retention, at most once per purgeEvery.
func (s *OutboxSender) purge(ctx context.Context) {
	now := s.now()
	if now.Sub(s.lastPurge) < purgeEvery {
		return
	}
	s.lastPurge = now
	n, err := s.outboxRepo.PurgeSent(ctx, now.Add(-sentRetention))
	if err != nil {
		s.log.Warn("purge sent messages failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("purged sent messages", zap.Int64("count", n))
	}
}

func (s *OutboxSender) sinkFor(topic string) Sink {
	if sink, ok := s.sinks[topic]; ok {
		return sink
	}
	return s.fallback
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.With(zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))

	err := errNoSink
	if sink := s.sinkFor(msg.Topic); sink != nil {
		err = sink.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	}

	if err == nil {
		metrics.OutboxDeliveriesTotal.WithLabelValues(msg.Topic, "sent").Inc()
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.Error("mark message sent failed", zap.Error(updateErr))
		} else {
			log.Debug("message sent")
		}
		return true
	}

	if errors.Is(err, errNoSink) || msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxDeliveriesTotal.WithLabelValues(msg.Topic, "failed").Inc()
		if markErr := s.outboxRepo.MarkAsFailed(ctx, msg.ID); markErr != nil {
			log.Error("mark message failed failed", zap.Error(markErr))
		} else {
			log.Warn("message given up", zap.Int("retries", msg.RetryCount+1), zap.Error(err))
		}
		return false
	}

	metrics.OutboxDeliveriesTotal.WithLabelValues(msg.Topic, "retry").Inc()
	if incErr := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); incErr != nil {
		log.Error("increment retry count failed", zap.Error(incErr))
	}
	log.Warn("message delivery failed, will retry", zap.Error(err))
	return false
}
