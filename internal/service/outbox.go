package service

import (
	"context"
	"encoding/json"
	"fmt"

	"creditgate/internal/model"
	"creditgate/internal/repository"

	"gorm.io/gorm"
)

// enqueue writes an outbox message inside tx.
func enqueue(ctx context.Context, tx *gorm.DB, repo *repository.OutboxRepository, topic, key string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return repo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(b),
		Status:     model.OutboxStatusPending,
	})
}
