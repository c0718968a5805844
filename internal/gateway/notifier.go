package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is a fire-and-forget message to the push/notification
// dispatcher. Delivery failures never roll back ledger state.
type Notification struct {
	UserID uuid.UUID
	Type   string
	Title  string
	Body   string
	Data   map[string]any
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of a push service.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (l *LogNotifier) Dispatch(ctx context.Context, n Notification) error {
	zap.L().Info("notification dispatched",
		zap.String("user_id", n.UserID.String()),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
	)
	return nil
}
