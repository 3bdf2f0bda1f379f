package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"creditgate/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	buyPrefix = "buy"
	// Telegram rejects callback data longer than this.
	maxCallbackData = 64
)

var errBadCallback = errors.New("bad callback data")

// BuyCallbackData encodes a tier choice as "buy:<tier>:<account key>".
func BuyCallbackData(tier int, accountKey string) string {
	return buyPrefix + ":" + strconv.Itoa(tier) + ":" + accountKey
}

// ParseBuyCallback is the inverse of BuyCallbackData.
func ParseBuyCallback(data string) (int, string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != buyPrefix || parts[2] == "" {
		return 0, "", fmt.Errorf("%w: %q", errBadCallback, data)
	}
	tier, err := strconv.Atoi(parts[1])
	if err != nil || tier < 0 {
		return 0, "", fmt.Errorf("%w: %q", errBadCallback, data)
	}
	return tier, parts[2], nil
}

// callbackKey picks the identifier carried in buy buttons. Long platform ids
// do not fit in callback data, the access token always does.
func callbackKey(platformID, accessToken string) string {
	if len(BuyCallbackData(99, platformID)) <= maxCallbackData {
		return platformID
	}
	return accessToken
}

// TierKeyboard renders one button per tier.
func TierKeyboard(tiers []service.Tier, accountKey string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tiers))
	for _, t := range tiers {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(t.Label()+" requests", BuyCallbackData(t.Index, accountKey)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// PayKeyboard is the single pay-URL button sent with a fresh invoice.
func PayKeyboard(payURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Pay with crypto", payURL)),
	)
}
