package platforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	p, ok := Parse("mastodon")
	assert.True(t, ok)
	assert.Equal(t, Mastodon, p)

	_, ok = Parse("myspace")
	assert.False(t, ok)

	_, ok = Parse("")
	assert.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Mastodon", Mastodon.DisplayName())
	assert.Equal(t, "Bluesky", Bluesky.DisplayName())
	assert.Equal(t, "weird", Platform("weird").DisplayName())
}

func TestEffectiveCharLimit(t *testing.T) {
	tests := []struct {
		name     string
		selected []Platform
		want     int
	}{
		{"single platform", []Platform{Mastodon}, 500},
		{"minimum wins", []Platform{Mastodon, Bluesky}, 300},
		{"twitter tightest", []Platform{Mastodon, Twitter, Threads}, 280},
		{"empty selection falls back to most permissive", nil, 500},
		{"unknown platform ignored", []Platform{Platform("weird"), Threads}, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveCharLimit(tt.selected))
		})
	}
}

func TestEffectiveImageCap(t *testing.T) {
	assert.Equal(t, 4, EffectiveImageCap([]Platform{Mastodon, Bluesky}))
	assert.Equal(t, 1, EffectiveImageCap([]Platform{Mastodon, Threads}))
	assert.Equal(t, 0, EffectiveImageCap(nil))
}

func TestAllOrderStable(t *testing.T) {
	assert.Equal(t, []Platform{Mastodon, Twitter, Threads, Bluesky}, All)
}
