package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
)

// EmailSender hands an email to a mail provider.
type EmailSender interface {
	Send(ctx context.Context, e entity.Email) error
}

// LogEmailSender writes emails to the log instead of sending them.
type LogEmailSender struct {
	Logger *slog.Logger
}

func (s LogEmailSender) Send(ctx context.Context, e entity.Email) error {
	s.Logger.InfoContext(ctx, "Email sent", "to", e.To, "template", e.Template, "subject", e.Subject)
	return nil
}

// EmailWorker consumes the email topic and sends each message.
type EmailWorker struct {
	subscriber messaging.Subscriber
	sender     EmailSender
	logger     *slog.Logger
}

// NewEmailWorker creates a new EmailWorker.
func NewEmailWorker(subscriber messaging.Subscriber, sender EmailSender, logger *slog.Logger) *EmailWorker {
	return &EmailWorker{subscriber: subscriber, sender: sender, logger: logger}
}

// Run blocks until ctx is cancelled.
func (w *EmailWorker) Run(ctx context.Context) error {
	w.logger.Info("Email worker started", "topic", messaging.TopicEmail)
	return w.subscriber.Consume(ctx, messaging.TopicEmail, w.Handle)
}

// Handle decodes and sends one email payload.
func (w *EmailWorker) Handle(ctx context.Context, payload []byte) error {
	var e entity.Email
	if err := json.Unmarshal(payload, &e); err != nil {
		return fmt.Errorf("failed to unmarshal email: %w", err)
	}
	if err := w.sender.Send(ctx, e); err != nil {
		return fmt.Errorf("failed to send %s email to %s: %w", e.Template, e.To, err)
	}
	return nil
}
