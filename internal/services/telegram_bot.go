package services

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"udensfiltri/internal/models"
)

// TelegramService posts staff notifications to one chat.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegramService builds the bot client without calling getMe, so startup
// does not depend on Telegram being reachable. endpoint may be empty.
func NewTelegramService(botToken string, chatID int64, endpoint string, log *zap.Logger) *TelegramService {
	t := &TelegramService{chatID: chatID, log: log.With(zap.String("component", "telegram"))}
	if botToken == "" {
		return t
	}
	bot := &tgbotapi.BotAPI{
		Token:  botToken,
		Client: &http.Client{Timeout: 10 * time.Second},
		Buffer: 100,
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot.SetAPIEndpoint(endpoint)
	t.bot = bot
	return t
}

func (t *TelegramService) Enabled() bool {
	return t != nil && t.bot != nil && t.chatID != 0
}

func (t *TelegramService) SendMessage(text string) error {
	if !t.Enabled() {
		t.log.Debug("telegram not configured, message skipped")
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// NotifyOrderPaid sends a short order summary to the staff chat.
func (t *TelegramService) NotifyOrderPaid(o *models.Order) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Order #%d paid</b>\n", o.ID)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %s × %d = %s\n", html.EscapeString(it.Name), it.Qty, FormatCents(it.LineTotalCents(), o.Currency))
	}
	fmt.Fprintf(&b, "Total: <b>%s</b>", FormatCents(o.TotalCents, o.Currency))
	if e := o.RecipientEmail(); e != "" {
		fmt.Fprintf(&b, "\nEmail: %s", html.EscapeString(e))
	}
	return t.SendMessage(b.String())
}
