package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"creditgate/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers user notifications from the outbox.
type Notifier struct {
	api API
	log *zap.Logger
}

func NewNotifier(api API, log *zap.Logger) *Notifier {
	return &Notifier{api: api, log: log.Named("notifier")}
}

// Publish decodes a UserNotification payload and sends it.
func (n *Notifier) Publish(ctx context.Context, _, _, value string) error {
	var note model.UserNotification
	if err := json.Unmarshal([]byte(value), &note); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	return n.Send(ctx, note.PlatformID, note.Text)
}

// Send messages the user. Accounts that are not Telegram chats, and users
// who blocked the bot, are skipped without error.
func (n *Notifier) Send(_ context.Context, platformID, text string) error {
	chatID, err := strconv.ParseInt(platformID, 10, 64)
	if err != nil {
		n.log.Debug("skip notification for non-telegram account", zap.String("platform_id", platformID))
		return nil
	}

	_, err = n.api.Send(tgbotapi.NewMessage(chatID, text))
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.Code == http.StatusForbidden || tgErr.Code == http.StatusBadRequest) {
		n.log.Warn("notification dropped", zap.String("platform_id", platformID), zap.Error(err))
		return nil
	}
	return fmt.Errorf("send telegram message: %w", err)
}
