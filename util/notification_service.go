// util/notification_service.go

package util

import (
	"context"

	"go.uber.org/zap"

	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/model"
)

// NotificationService turns cache lifecycle events into user-facing
// notifications. The default implementation logs; hosts embed it and
// override the hooks to surface toasts, badges, or push messages.
type NotificationService struct {
	// OnSyncFailed, when set, is called for every terminally failed
	// operation so the host can prompt the user to retry.
	OnSyncFailed func(op model.SyncOperation)
}

func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// HandleEvent satisfies EventHandler; wire it with AddListener.
func (n *NotificationService) HandleEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case "user.changed":
		if user, ok := event.Payload.(*model.User); ok && user != nil {
			n.NotifyUserChange(ctx, user)
		}
	case "sync.enqueued":
		if op, ok := event.Payload.(model.SyncOperation); ok {
			n.NotifySyncEnqueued(ctx, op)
		}
	case "sync.completed":
		if op, ok := event.Payload.(model.SyncOperation); ok {
			n.NotifySyncCompleted(ctx, op)
		}
	case "sync.failed":
		if op, ok := event.Payload.(model.SyncOperation); ok {
			n.NotifySyncFailed(ctx, op)
		}
	case "cache.invalidated":
		logger.Debug("Cache invalidated", zap.Any("scope", event.Payload))
	}
	return nil
}

func (n *NotificationService) NotifyUserChange(ctx context.Context, user *model.User) {
	logger.Info("Active user changed",
		zap.String("userID", user.ID),
		zap.String("role", string(user.Role)))
}

func (n *NotificationService) NotifySyncEnqueued(ctx context.Context, op model.SyncOperation) {
	logger.Info("Operation queued for sync",
		zap.String("operationID", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("resource", op.Resource))
}

func (n *NotificationService) NotifySyncCompleted(ctx context.Context, op model.SyncOperation) {
	logger.Info("Operation synced",
		zap.String("operationID", op.ID),
		zap.String("resource", op.Resource))
}

func (n *NotificationService) NotifySyncFailed(ctx context.Context, op model.SyncOperation) {
	logger.Warn("Operation failed permanently",
		zap.String("operationID", op.ID),
		zap.String("resource", op.Resource),
		zap.String("lastError", op.LastError))
	if n.OnSyncFailed != nil {
		n.OnSyncFailed(op)
	}
}
