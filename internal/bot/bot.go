// Package bot is the Telegram front end: a long-polling menu for balance and
// top-ups, and the notifier that delivers outbox messages to users.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"creditgate/internal/config"
	"creditgate/internal/model"
	"creditgate/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Accounts interface {
	Resolve(ctx context.Context, identifier string) (*model.Account, error)
	ResolveByToken(ctx context.Context, token string) (*model.Account, error)
	ResolveOrCreate(ctx context.Context, identifier string) (*model.Account, error)
	Touch(ctx context.Context, platformID, displayName string) error
}

type Invoicer interface {
	Tiers() []service.Tier
	CreateTierInvoice(ctx context.Context, account *model.Account, tierIndex int) (*model.Invoice, error)
}

// Connect logs in with the configured token.
func Connect(cfg *config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = cfg.Debug
	return api, nil
}

type Bot struct {
	api         API
	accounts    Accounts
	invoices    Invoicer
	pollTimeout int
	log         *zap.Logger
}

func New(api API, accounts Accounts, invoices Invoicer, pollTimeout int, log *zap.Logger) *Bot {
	return &Bot{
		api:         api,
		accounts:    accounts,
		invoices:    invoices,
		pollTimeout: pollTimeout,
		log:         log.Named("bot"),
	}
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot polling", zap.Int("timeout", b.pollTimeout))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		if arg, ok := startArgument(update.Message.Text); ok {
			b.handleStart(ctx, update.Message, arg)
		}
	}
}

// startArgument recognises "/start", "/start@botname" and an optional
// deep-link argument.
func startArgument(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd != "/start" {
		return "", false
	}
	if len(fields) > 1 {
		return fields[1], true
	}
	return "", true
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, arg string) {
	account, err := b.startAccount(ctx, msg, arg)
	if err != nil {
		b.log.Warn("start: resolve account failed", zap.String("arg", arg), zap.Error(err))
		b.reply(msg.Chat.ID, "Account not found. Check the link or send /start.")
		return
	}

	text := fmt.Sprintf("Balance: %d requests\nAccess token: %s\n\nChoose a top-up pack:",
		account.Balance, account.AccessToken)
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyMarkup = TierKeyboard(b.invoices.Tiers(), callbackKey(account.PlatformID, account.AccessToken))
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send menu failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

// startAccount resolves the sender's own account, created on first contact.
// A deep-link argument is looked up only as an access token, never as a
// platform id.
func (b *Bot) startAccount(ctx context.Context, msg *tgbotapi.Message, arg string) (*model.Account, error) {
	if msg.From == nil {
		return nil, errors.New("message without sender")
	}
	platformID := strconv.FormatInt(msg.From.ID, 10)
	if arg != "" && arg != platformID {
		return b.accounts.ResolveByToken(ctx, arg)
	}
	account, err := b.accounts.ResolveOrCreate(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if err := b.accounts.Touch(ctx, platformID, displayName(msg.From)); err != nil {
		b.log.Warn("update display name failed", zap.String("platform_id", platformID), zap.Error(err))
	}
	return account, nil
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	tier, key, err := ParseBuyCallback(cq.Data)
	if err != nil {
		b.answer(cq.ID, "Unknown action.")
		return
	}
	log := b.log.With(zap.Int("tier", tier), zap.String("account_key", key))

	account, err := b.accounts.Resolve(ctx, key)
	if err != nil {
		log.Warn("buy: resolve account failed", zap.Error(err))
		b.answer(cq.ID, "Account not found.")
		return
	}

	invoice, err := b.invoices.CreateTierInvoice(ctx, account, tier)
	if err != nil {
		log.Warn("buy: create invoice failed", zap.Error(err))
		b.answer(cq.ID, "Could not create the invoice, try again later.")
		return
	}
	b.answer(cq.ID, "")

	text := fmt.Sprintf("Invoice for %s$ created. %d requests will be credited right after payment:",
		invoice.USDAmount, invoice.CreditCount)
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(cq.Message.Chat.ID, cq.Message.MessageID, text, PayKeyboard(invoice.PayURL))
	if _, err := b.api.Send(edit); err != nil {
		log.Error("send pay link failed", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Warn("answer callback failed", zap.Error(err))
	}
}
