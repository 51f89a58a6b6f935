package domain

// Priority classifies how urgently a notification should surface in the client.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is the payload fanned out to a user's live connections.
// The realtime core treats it as opaque: the domain layer (orders, livestock
// alerts, task reminders, ...) constructs it and the dispatcher only stamps
// the delivery timestamp.
type Notification struct {
	NotificationType string   `json:"notificationType"`
	Title            string   `json:"title"`
	Message          string   `json:"message"`
	Priority         Priority `json:"priority"`
	RelatedID        *int64   `json:"relatedId,omitempty"`
	RelatedType      string   `json:"relatedType,omitempty"`
	ActionURL        string   `json:"actionUrl,omitempty"`
	CorrelationID    string   `json:"correlationId,omitempty"`
	Timestamp        int64    `json:"timestamp"`
}
