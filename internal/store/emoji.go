package store

import (
	"encoding/json"
	"time"

	"hyperyapper/internal/logging"
)

const emojiStoreName = "recent_emojis"

// maxRecentEmojis bounds the history shown in the picker.
const maxRecentEmojis = 24

type emojiData struct {
	RecentEmojis []string  `json:"recentEmojis"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// EmojiHistory keeps the most-recently-used emoji list, newest first.
type EmojiHistory struct {
	backend Backend
}

// NewEmojiHistory creates an emoji history over the given backend.
func NewEmojiHistory(backend Backend) *EmojiHistory {
	return &EmojiHistory{backend: backend}
}

func (e *EmojiHistory) load() emojiData {
	data, err := e.backend.LoadStore(emojiStoreName)
	if err != nil {
		logging.Warn("Failed to load emoji history: %v", err)
		return emojiData{}
	}
	var d emojiData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			logging.Warn("Corrupt emoji history, resetting: %v", err)
			return emojiData{}
		}
	}
	return d
}

func (e *EmojiHistory) save(d emojiData) {
	data, err := json.Marshal(d)
	if err != nil {
		logging.Warn("Failed to marshal emoji history: %v", err)
		return
	}
	if err := e.backend.SaveStore(emojiStoreName, data); err != nil {
		logging.Warn("Failed to save emoji history: %v", err)
	}
}

// Recent returns the recent emoji list, newest first.
func (e *EmojiHistory) Recent() []string {
	return e.load().RecentEmojis
}

// Add moves an emoji to the front of the history, bounded at
// maxRecentEmojis entries.
func (e *EmojiHistory) Add(emoji string) {
	d := e.load()
	filtered := make([]string, 0, len(d.RecentEmojis)+1)
	filtered = append(filtered, emoji)
	for _, existing := range d.RecentEmojis {
		if existing != emoji {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) > maxRecentEmojis {
		filtered = filtered[:maxRecentEmojis]
	}
	e.save(emojiData{RecentEmojis: filtered, LastUpdated: time.Now()})
}

// Clear empties the history. Backends that support document deletion drop
// the store entirely instead of persisting an empty list.
func (e *EmojiHistory) Clear() {
	if deleter, ok := e.backend.(interface{ DeleteStore(name string) error }); ok {
		if err := deleter.DeleteStore(emojiStoreName); err != nil {
			logging.Warn("Failed to clear emoji history: %v", err)
		}
		return
	}
	e.save(emojiData{LastUpdated: time.Now()})
}
