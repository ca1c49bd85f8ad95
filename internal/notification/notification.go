// Package notification delivers operator-facing notifications raised by
// billing jobs, such as stale resource reports.
package notification

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Message is a notification addressed to a customer's owners.
type Message struct {
	CustomerID int64
	Subject    string
	Body       string
	Context    map[string]any
}

// Notifier delivers messages to an outbound channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// logNotifier writes notifications to the structured log. It stands in
// for a mail or webhook transport in deployments without one.
type logNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notification")}
}

func (n *logNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info("notification dispatched",
		zap.Int64("customer_id", msg.CustomerID),
		zap.String("subject", msg.Subject),
		zap.Any("context", msg.Context),
	)
	return nil
}

var Module = fx.Module("notification",
	fx.Provide(NewLogNotifier),
)
