package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joao-fontenele/perfumeshop/internal/domain"
)

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NotificationHandler turns order.placed events into confirmation emails.
type NotificationHandler struct {
	mailer Mailer
	logger *slog.Logger
}

func NewNotificationHandler(mailer Mailer, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer: mailer,
		logger: logger,
	}
}

// Handle returns an error only for failures worth redelivering. Malformed events and
// rejected emails are logged and acknowledged.
func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to decode order placed event", "error", err)
		return nil
	}

	if event.Email == "" {
		h.logger.Warn("order placed event without email, skipping", "order_id", event.OrderID, "user_id", event.UserID)
		return nil
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "user_id", event.UserID)

	if err := h.mailer.Send(ctx, confirmation(event)); err != nil {
		if errors.Is(err, ErrRejected) {
			h.logger.Error("confirmation email rejected", "error", err, "order_id", event.OrderID)
			return nil
		}
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("confirmation email sent", "order_id", event.OrderID, "to", event.Email)
	return nil
}

func confirmation(event domain.OrderPlacedEvent) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order #%d placed on %s.\n\n",
		event.OrderID, event.PlacedAt.Format("2006-01-02 15:04"))
	for _, line := range event.Lines {
		fmt.Fprintf(&b, "- product %d x%d at %s", line.ProductID, line.Quantity, line.UnitPrice.StringFixed(2))
		if line.Discount.IsPositive() {
			fmt.Fprintf(&b, " (-%s)", line.Discount.StringFixed(2))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nTotal paid from your wallet: %s\n", event.Total.StringFixed(2))

	return Message{
		To:      event.Email,
		Subject: fmt.Sprintf("Order Confirmation #%d", event.OrderID),
		Body:    b.String(),
	}
}
