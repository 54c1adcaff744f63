package rediskv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatforge/realtime/internal/models"
)

// NotificationSender serializes a Notification as a user-channel
// pub/sub event, published to ws:user:{id}:notifications as named in
// the persisted state layout.
type NotificationSender struct {
	bus *PubSub
}

// NewNotificationSender returns a sender backed by the given PubSub bus.
func NewNotificationSender(bus *PubSub) *NotificationSender {
	return &NotificationSender{bus: bus}
}

// Send publishes n to its owner's notification channel.
func (n *NotificationSender) Send(ctx context.Context, notif *models.Notification) error {
	event := models.BroadcastEvent{
		EventType: models.EventNotification,
		Payload: models.EventPayload{
			UserID:    notif.UserID,
			Timestamp: notif.CreatedAt,
			Extra: map[string]interface{}{
				"notification_id": notif.ID.String(),
				"type":            string(notif.Type),
				"payload":         notif.Payload,
				"source_id":       notif.SourceID.String(),
			},
		},
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	channel := fmt.Sprintf("ws:user:%s:notifications", notif.UserID)
	return n.bus.Publish(ctx, channel, data)
}
