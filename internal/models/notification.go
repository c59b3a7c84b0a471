package models

import "time"

// NotificationType identifies the kind of change a notification reports.
type NotificationType string

const (
	NotifyEntityAdded        NotificationType = "entity_added"
	NotifyEntityUpdated      NotificationType = "entity_updated"
	NotifyEntityDeleted      NotificationType = "entity_deleted"
	NotifyCollectionAdded    NotificationType = "collection_added"
	NotifyCollectionUpdated  NotificationType = "collection_updated"
	NotifyCollectionDeleted  NotificationType = "collection_deleted"
	NotifyCollectionMoved    NotificationType = "collection_moved"
	NotifyCollectionDisabled NotificationType = "collection_disabled"
)

// Notification is a fire-and-forget system event posted on transaction
// boundaries.
type Notification struct {
	Type    NotificationType `json:"type"`
	Actor   string           `json:"actor"`
	Owner   string           `json:"owner"`
	Path    string           `json:"path"`
	Href    string           `json:"href,omitempty"`
	OldHref string           `json:"old_href,omitempty"`
	NewHref string           `json:"new_href,omitempty"`
	// RecurrenceID tags per-instance change notifications.
	RecurrenceID string    `json:"recurrence_id,omitempty"`
	Shared       bool      `json:"shared"`
	Public       bool      `json:"public"`
	At           time.Time `json:"at"`
}
