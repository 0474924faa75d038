package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/mailgun/mailgun-go/v4"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type NotifierConfig struct {
	Provider      string
	MailgunDomain string
	MailgunAPIKey string
	SenderEmail   string
	SenderName    string
	Recipient     string
}

// NewNotifier picks the mailgun notifier when it is fully configured and
// falls back to logging otherwise.
func NewNotifier(cfg NotifierConfig) Notifier {
	provider := strings.ToLower(cfg.Provider)
	logger.L.Info("Initializing alert notifier", "provider", provider)

	switch provider {
	case "mailgun":
		if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.SenderEmail == "" || cfg.Recipient == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, SenderEmail or Recipient missing). Falling back to LogNotifier.")
			return &LogNotifier{}
		}
		mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", cfg.MailgunDomain)
		return &MailgunNotifier{
			mg:          mg,
			senderEmail: cfg.SenderEmail,
			senderName:  cfg.SenderName,
			recipient:   cfg.Recipient,
		}
	default:
		return &LogNotifier{}
	}
}

type MailgunNotifier struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
	recipient   string
}

func (n *MailgunNotifier) Notify(ctx context.Context, subject, body string) error {
	from := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	message := n.mg.NewMessage(from, subject, body, n.recipient)
	message.AddTag("provenance-alert")

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send alert via Mailgun", "error", err, "to", n.recipient, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	logger.L.Info("Alert sent via Mailgun", "to", n.recipient, "id", id)
	return nil
}

// LogNotifier writes alerts to the structured log only.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, subject, body string) error {
	logger.FromContext(ctx).Warn("LogNotifier: Would send alert.", "subject", subject, "body", body)
	return nil
}
