package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/korisu-sushi/sushi-bot/internal/services"
)

// LogPublisher writes notifications to the process log. It backs the "none" notifier driver in local runs.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a publisher writing to logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("notify")}
}

// PublishOrder logs the kitchen summary.
func (p *LogPublisher) PublishOrder(_ context.Context, notification services.OrderNotification) error {
	p.logger.Info("order notification",
		zap.String("order_id", notification.Order.OrderID),
		zap.Int64("total", notification.Order.Total),
		zap.String("summary", notification.Summary),
	)
	return nil
}
