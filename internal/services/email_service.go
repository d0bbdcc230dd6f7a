package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"udensfiltri/internal/models"
)

type EmailService interface {
	SendCode(ctx context.Context, to, code string, purpose models.CodePurpose) error
	SendOrderPaid(ctx context.Context, to string, o *models.Order, receipt []byte) error
	SendAdminOrderPaid(ctx context.Context, to []string, o *models.Order) error
}

type mailSender interface {
	Send(ctx context.Context, m *gomail.Message) error
}

// defaultSMTPTimeout bounds a conversation whose context has no deadline.
const defaultSMTPTimeout = 30 * time.Second

type emailService struct {
	sender mailSender
	from   string
	log    *zap.Logger
}

// NewEmailService returns a gomail-backed sender. With an empty host messages
// are only logged.
func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string, log *zap.Logger) EmailService {
	s := &emailService{from: fromEmail, log: log.With(zap.String("component", "email"))}
	if smtpHost != "" {
		s.sender = &smtpSender{d: gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)}
	}
	return s
}

func (s *emailService) send(ctx context.Context, m *gomail.Message, kind string) error {
	m.SetHeader("From", s.from)
	if s.sender == nil {
		s.log.Info("smtp not configured, email skipped", zap.String("kind", kind), zap.Strings("to", m.GetHeader("To")))
		return nil
	}
	if err := s.sender.Send(ctx, m); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to send %s email: %w (%v)", kind, ctx.Err(), err)
		}
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

// smtpSender runs one SMTP conversation per message, bound to ctx.
// gomail.Dialer only holds the settings.
type smtpSender struct {
	d *gomail.Dialer
}

func (s *smtpSender) tlsConfig() *tls.Config {
	if s.d.TLSConfig != nil {
		return s.d.TLSConfig
	}
	return &tls.Config{ServerName: s.d.Host}
}

func (s *smtpSender) Send(ctx context.Context, m *gomail.Message) error {
	var nd net.Dialer
	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(s.d.Host, strconv.Itoa(s.d.Port)))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer raw.Close()

	if _, ok := ctx.Deadline(); !ok {
		if err := raw.SetDeadline(time.Now().Add(defaultSMTPTimeout)); err != nil {
			return fmt.Errorf("smtp deadline: %w", err)
		}
	}
	// отмена или дедлайн контекста закрывает сокет и прерывает сессию
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	conn := raw
	if s.d.SSL {
		conn = tls.Client(raw, s.tlsConfig())
	}
	c, err := smtp.NewClient(conn, s.d.Host)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if s.d.LocalName != "" {
		if err := c.Hello(s.d.LocalName); err != nil {
			return err
		}
	}
	if !s.d.SSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConfig()); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.d.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.d.Username, s.d.Password, s.d.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	deliver := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(deliver, m); err != nil {
		return err
	}
	return c.Quit()
}

var codeSubjects = map[models.CodePurpose]string{
	models.PurposeRegister:       "Your registration code",
	models.PurposeChangeEmail:    "Confirm your new email",
	models.PurposeChangePhone:    "Confirm your new phone number",
	models.PurposeChangePassword: "Confirm your password change",
}

func (s *emailService) SendCode(ctx context.Context, to, code string, purpose models.CodePurpose) error {
	m := gomail.NewMessage()
	m.SetHeader("To", to)
	m.SetHeader("Subject", codeSubjects[purpose])
	m.SetBody("text/plain", fmt.Sprintf("Your verification code: %s\nIt expires in a few minutes. If you did not request it, ignore this email.", code))
	return s.send(ctx, m, "code")
}

func (s *emailService) SendOrderPaid(ctx context.Context, to string, o *models.Order, receipt []byte) error {
	m := gomail.NewMessage()
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("Payment received for Order #%d", o.ID))
	m.SetBody("text/html", orderHTML("Thank you for your order!", o))
	if len(receipt) > 0 {
		m.Attach(fmt.Sprintf("receipt-%d.pdf", o.ID), gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(receipt)
			return err
		}))
	}
	return s.send(ctx, m, "order_paid")
}

func (s *emailService) SendAdminOrderPaid(ctx context.Context, to []string, o *models.Order) error {
	if len(to) == 0 {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("To", to...)
	m.SetHeader("Subject", fmt.Sprintf("[Admin] Order #%d paid", o.ID))
	m.SetBody("text/html", orderHTML("New paid order", o))
	return s.send(ctx, m, "admin_order_paid")
}

func orderHTML(title string, o *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2><p>Order #%d</p><table>", html.EscapeString(title), o.ID)
	b.WriteString("<tr><th>Item</th><th>Qty</th><th>Price</th><th>Total</th></tr>")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(it.Name), it.Qty,
			FormatCents(it.UnitPriceCents, o.Currency), FormatCents(it.LineTotalCents(), o.Currency))
	}
	fmt.Fprintf(&b, "</table><p><strong>Total: %s</strong></p>", FormatCents(o.TotalCents, o.Currency))
	if e := o.RecipientEmail(); e != "" {
		fmt.Fprintf(&b, "<p>Customer: %s</p>", html.EscapeString(e))
	}
	return b.String()
}

// FormatCents renders minor units as "12.34 EUR".
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}
