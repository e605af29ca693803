package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPaymentPosted is sent to the recipient once a payment is booked.
	KindPaymentPosted = "payment_posted"
	// KindUserPending asks moderators to review a new registration.
	KindUserPending = "user_pending"
	// KindAccountApproved tells a user or group owner the account is open.
	KindAccountApproved = "account_approved"
	// KindDelegationGranted tells a user they may act for an account.
	KindDelegationGranted = "delegation_granted"
)

// Moderators is the destination of moderation requests.
const Moderators = "moderators"

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", slog.String("kind", message.Kind), slog.String("destination", message.Destination), slog.String("body", message.Body))
	return nil
}

// Recorder keeps every message it is sent; tests use it to assert delivery.
type Recorder struct {
	Messages []Message
}

// Send appends message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.Messages = append(r.Messages, message)
	return nil
}

// Kinds lists the kinds received so far, in order.
func (r *Recorder) Kinds() []string {
	kinds := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}
