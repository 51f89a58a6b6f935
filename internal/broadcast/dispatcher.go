package broadcast

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/farmpulse/farmpulse/internal/domain"
	"github.com/farmpulse/farmpulse/internal/metrics"
	"github.com/farmpulse/farmpulse/internal/protocol"
	"github.com/farmpulse/farmpulse/internal/registry"
)

// Dispatcher fans notification events out to the live connections of their
// target users. Payloads are opaque: the domain layer builds them, the
// dispatcher only stamps the delivery timestamp and a correlation id.
//
// Delivery is best effort. A user with no connections is a no-op, a slow or
// dead connection is logged and evicted, and neither case surfaces to the
// caller as an error.
type Dispatcher struct {
	registry *registry.Registry
	clock    clockwork.Clock
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *registry.Registry, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{registry: reg, clock: clock}
}

// SendToUser delivers event to every connection of userID. Zero connections
// means the user is offline; that is a no-op, not an error.
func (d *Dispatcher) SendToUser(userID int64, event domain.Notification) registry.DeliveryResult {
	frame, ok := d.frame(&event)
	if !ok {
		return registry.DeliveryResult{}
	}

	result := d.registry.Deliver(userID, frame)
	if result.Attempted == 0 {
		metrics.BroadcastOfflineDrops.Inc()
		slog.Debug("Notification dropped: user offline", "user_id", userID, "notification_type", event.NotificationType)
	}
	return result
}

// SendToUsers fans event out over the given user ids. Partial failure across
// users is expected and tolerated.
func (d *Dispatcher) SendToUsers(userIDs []int64, event domain.Notification) registry.DeliveryResult {
	frame, ok := d.frame(&event)
	if !ok {
		return registry.DeliveryResult{}
	}

	var total registry.DeliveryResult
	for _, userID := range userIDs {
		result := d.registry.Deliver(userID, frame)
		if result.Attempted == 0 {
			metrics.BroadcastOfflineDrops.Inc()
		}
		total.Attempted += result.Attempted
		total.Failed += result.Failed
	}
	return total
}

// SendToAll delivers event to every registered connection of every user.
// Used sparingly (broad alerts such as weather warnings).
func (d *Dispatcher) SendToAll(event domain.Notification) registry.DeliveryResult {
	frame, ok := d.frame(&event)
	if !ok {
		return registry.DeliveryResult{}
	}
	return d.registry.DeliverAll(frame)
}

// frame stamps the event and wraps it in a notification envelope.
func (d *Dispatcher) frame(event *domain.Notification) ([]byte, bool) {
	event.Timestamp = d.clock.Now().UnixMilli()
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}

	frame, err := protocol.Marshal(protocol.TypeNotification, nil, event, d.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal notification", "notification_type", event.NotificationType, "error", err)
		return nil, false
	}
	return frame, true
}
