package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcasterNotifiesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	var first, second int
	b.Subscribe(func() { first++ })
	b.Subscribe(func() { second++ })

	b.Publish()
	b.Publish()

	assert.Equal(t, 2, first)
	assert.Equal(t, 2, second)
}

func TestBroadcasterPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()
	assert.NotPanics(t, b.Publish)
}
