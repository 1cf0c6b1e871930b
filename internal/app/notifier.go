package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/pkg/rabbitmq"
)

// NotificationExchange is the topic exchange ledger events are published to.
const NotificationExchange = "ledger.notifications"

const publishTimeout = 5 * time.Second

// maxInFlightNotifications bounds concurrent publishes. Events beyond it are dropped and counted.
const maxInFlightNotifications = 64

func newNotifySlots() *semaphore.Weighted {
	return semaphore.NewWeighted(maxInFlightNotifications)
}

// Notifier delivers ledger events after their transaction has committed.
type Notifier interface {
	Notify(ctx context.Context, event domain.LedgerEvent) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, domain.LedgerEvent) error { return nil }

// RabbitNotifier publishes events to RabbitMQ with the event type as routing key.
type RabbitNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewRabbitNotifier(publisher rabbitmq.Publisher, exchange string) *RabbitNotifier {
	if exchange == "" {
		exchange = NotificationExchange
	}
	return &RabbitNotifier{publisher: publisher, exchange: exchange}
}

func (n *RabbitNotifier) Notify(ctx context.Context, event domain.LedgerEvent) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	return n.publisher.Publish(ctx, n.exchange, event.Type, event)
}

// notify sends the event in the background. Delivery errors are logged and never reach the caller.
// It never blocks: with every publish slot taken the event is dropped.
func (s *Service) notify(event domain.LedgerEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}

	if !s.notifySlots.TryAcquire(1) {
		notificationFailuresTotal.WithLabelValues(event.Type).Inc()
		s.logger.Warn("notification dropped; publisher saturated", "event", event.Type, "event_id", event.ID, "user_id", event.UserID)
		return
	}

	go func(notifier Notifier, logger *slog.Logger) {
		defer s.notifySlots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("notification panicked", "event", event.Type, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := notifier.Notify(ctx, event); err != nil {
			notificationFailuresTotal.WithLabelValues(event.Type).Inc()
			logger.Warn("notification publish failed", "event", event.Type, "event_id", event.ID, "user_id", event.UserID, "error", err)
		}
	}(s.notifier, s.logger)
}
