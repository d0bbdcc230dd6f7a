package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"udensfiltri/internal/metrics"
	"udensfiltri/internal/models"
	"udensfiltri/internal/pdf"
	"udensfiltri/internal/repositories"
)

// PaidNotifier is told once per order that became paid. Implementations must
// not block the caller.
type PaidNotifier interface {
	OrderPaid(o *models.Order)
}

type OrderNotifier struct {
	emails   EmailService
	telegram *TelegramService
	receipts pdf.Generator
	users    repositories.UserRepository
	admins   []string
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewOrderNotifier(emails EmailService, telegram *TelegramService, receipts pdf.Generator, users repositories.UserRepository, admins []string, timeout time.Duration, log *zap.Logger) *OrderNotifier {
	return &OrderNotifier{
		emails:   emails,
		telegram: telegram,
		receipts: receipts,
		users:    users,
		admins:   admins,
		timeout:  timeout,
		now:      time.Now,
		log:      log.With(zap.String("component", "notify")),
	}
}

func (n *OrderNotifier) OrderPaid(o *models.Order) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		n.deliver(ctx, o)
		if ctx.Err() != nil {
			n.log.Warn("paid notification timed out", zap.Int64("order_id", o.ID))
		}
	}()
}

// Wait blocks until dispatched notifications finish. Every channel is bound by
// the notifier timeout.
func (n *OrderNotifier) Wait() {
	n.wg.Wait()
}

func (n *OrderNotifier) deliver(ctx context.Context, o *models.Order) {
	to := o.RecipientEmail()
	if to == "" && o.UserID != nil {
		if u, err := n.users.GetByID(ctx, *o.UserID); err == nil {
			to = u.ContactEmail()
		}
	}

	if to != "" {
		var receipt []byte
		if n.receipts != nil {
			r, err := n.receipts.OrderReceipt(o, n.now())
			if err != nil {
				n.log.Warn("receipt render failed", zap.Int64("order_id", o.ID), zap.Error(err))
			} else {
				receipt = r
			}
		}
		n.record("email", n.emails.SendOrderPaid(ctx, to, o, receipt), o.ID)
	}
	if len(n.admins) > 0 {
		n.record("admin_email", n.emails.SendAdminOrderPaid(ctx, n.admins, o), o.ID)
	}
	if n.telegram.Enabled() {
		n.record("telegram", n.telegram.NotifyOrderPaid(o), o.ID)
	}
}

func (n *OrderNotifier) record(channel string, err error, orderID int64) {
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(channel, "error").Inc()
		n.log.Warn("paid notification failed", zap.String("channel", channel), zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	metrics.NotificationsSent.WithLabelValues(channel, "ok").Inc()
}
