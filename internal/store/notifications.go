package store

import (
	"encoding/json"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
)

const notificationsStoreName = "notifications"

// Notifications records published compositions so the reply poller knows
// which posts to watch for replies.
type Notifications struct {
	backend Backend
}

// NewNotifications creates a notification store over the given backend.
func NewNotifications(backend Backend) *Notifications {
	return &Notifications{backend: backend}
}

func (n *Notifications) load() []models.Notification {
	data, err := n.backend.LoadStore(notificationsStoreName)
	if err != nil {
		logging.Warn("Failed to load notifications: %v", err)
		return nil
	}
	var list []models.Notification
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			logging.Warn("Corrupt notification store, resetting: %v", err)
			return nil
		}
	}
	return list
}

func (n *Notifications) save(list []models.Notification) {
	data, err := json.Marshal(list)
	if err != nil {
		logging.Warn("Failed to marshal notifications: %v", err)
		return
	}
	if err := n.backend.SaveStore(notificationsStoreName, data); err != nil {
		logging.Warn("Failed to save notifications: %v", err)
	}
}

// List returns all recorded notifications, newest first.
func (n *Notifications) List() []models.Notification {
	return n.load()
}

// Add prepends a notification.
func (n *Notifications) Add(notification models.Notification) {
	list := n.load()
	list = append([]models.Notification{notification}, list...)
	n.save(list)
}

// Delete removes a notification by id and returns its post refs so the
// caller can clear the matching reply cache entries.
func (n *Notifications) Delete(id string) []models.PostRef {
	list := n.load()
	var refs []models.PostRef
	filtered := list[:0]
	for _, item := range list {
		if item.ID == id {
			refs = item.PostRefs
			continue
		}
		filtered = append(filtered, item)
	}
	n.save(filtered)
	return refs
}
