package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

// UserEventExchange carries user lifecycle events published by the chat layer.
const UserEventExchange = "ledger.users"

// UserRegistrar is the part of the service the user event consumer needs.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, userID int64, username string, inviterID *int64) (*domain.User, bool, error)
}

// UserEventConsumer turns user.started events into RegisterUser calls.
type UserEventConsumer struct {
	registrar UserRegistrar
	logger    *slog.Logger
}

func NewUserEventConsumer(registrar UserRegistrar, logger *slog.Logger) *UserEventConsumer {
	return &UserEventConsumer{registrar: registrar, logger: logger}
}

// HandleMessage returns false only for failures worth redelivering.
func (c *UserEventConsumer) HandleMessage(body []byte) bool {
	var event domain.UserStartedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("user event dropped; invalid payload", "error", err)
		return true
	}
	if event.UserID == 0 {
		c.logger.Warn("user event dropped; missing user id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, created, err := c.registrar.RegisterUser(ctx, event.UserID, event.Username, event.InviterID)
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			c.logger.Error("user event processing failed; requeueing", "user_id", event.UserID, "error", err)
			return false
		}
		c.logger.Warn("user event dropped", "user_id", event.UserID, "error", err)
		return true
	}
	if created {
		c.logger.Info("user registered from event", "user_id", event.UserID)
	}
	return true
}
