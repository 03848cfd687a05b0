// Package notify delivers workflow notifications over the log, a webhook or the event bus.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/shiftflow/pkg/eventbus"
	"github.com/dukex/shiftflow/pkg/events"
	"github.com/dukex/shiftflow/pkg/models"
)

const defaultTimeout = 10 * time.Second

var (
	ErrUnknownChannel   = errors.New("unknown notification channel")
	ErrNoPublisher      = errors.New("no event publisher configured")
	ErrDeliveryRejected = errors.New("notification webhook rejected the delivery")
)

// Message is one notification to deliver.
type Message struct {
	WorkflowID  string                     `json:"workflow_id"`
	ExecutionID string                     `json:"execution_id,omitempty"`
	Channel     models.NotificationChannel `json:"channel"`
	Recipient   string                     `json:"recipient,omitempty"`
	Text        string                     `json:"message"`
	SentAt      time.Time                  `json:"sent_at"`
}

// Notifier sends messages. A nil publisher disables the event channel.
type Notifier struct {
	client    *http.Client
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewNotifier(client *http.Client, publisher eventbus.EventPublisher, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Notifier{
		client:    client,
		publisher: publisher,
		logger:    logger.With("module", "notifier"),
	}
}

// Send delivers message on its channel.
func (n *Notifier) Send(ctx context.Context, message Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}

	logger := n.logger.With(
		"workflow_id", message.WorkflowID,
		"execution_id", message.ExecutionID,
		"channel", message.Channel,
	)

	switch message.Channel {
	case models.ChannelLog:
		logger.InfoContext(ctx, "Notification", "recipient", message.Recipient, "message", message.Text)

		return nil
	case models.ChannelWebhook:
		return n.postWebhook(ctx, message)
	case models.ChannelEvent:
		if n.publisher == nil {
			return ErrNoPublisher
		}

		event := events.NotificationRequested{
			BaseEvent:   events.NewBaseEvent(events.NotificationRequestedEvent, message.WorkflowID),
			ExecutionID: message.ExecutionID,
			Recipient:   message.Recipient,
			Message:     message.Text,
		}

		err := n.publisher.Publish(ctx, message.WorkflowID, event)
		if err != nil {
			return fmt.Errorf("failed to publish notification: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, message.Channel)
	}
}

func (n *Notifier) postWebhook(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, message.Recipient, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryRejected, resp.StatusCode)
	}

	return nil
}
