package store

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

func TestReplyCacheGetSet(t *testing.T) {
	c := NewReplyCache(newMemBackend())

	assert.Nil(t, c.Get(platforms.Mastodon, "123"))

	c.Set(platforms.Mastodon, "123", models.ReplyCount{
		Platform:    platforms.Mastodon,
		PostID:      "123",
		Count:       7,
		LastFetched: time.Now(),
	})

	got := c.Get(platforms.Mastodon, "123")
	require.NotNil(t, got)
	assert.Equal(t, 7, got.Count)

	// Same post id on a different platform is a different entry.
	assert.Nil(t, c.Get(platforms.Bluesky, "123"))
}

func TestReplyCacheClearPosts(t *testing.T) {
	c := NewReplyCache(newMemBackend())
	c.Set(platforms.Mastodon, "a", models.ReplyCount{Platform: platforms.Mastodon, PostID: "a", Count: 1})
	c.Set(platforms.Threads, "b", models.ReplyCount{Platform: platforms.Threads, PostID: "b", Count: 2})

	c.ClearPosts([]models.PostRef{{Platform: platforms.Mastodon, PostID: "a"}})

	assert.Nil(t, c.Get(platforms.Mastodon, "a"))
	assert.NotNil(t, c.Get(platforms.Threads, "b"))
}

func TestReplyCacheClearPlatform(t *testing.T) {
	c := NewReplyCache(newMemBackend())
	c.Set(platforms.Bluesky, "at://x", models.ReplyCount{Platform: platforms.Bluesky, PostID: "at://x", Count: 3})
	c.Set(platforms.Mastodon, "1", models.ReplyCount{Platform: platforms.Mastodon, PostID: "1", Count: 1})

	c.ClearPlatform(platforms.Bluesky)

	assert.Nil(t, c.Get(platforms.Bluesky, "at://x"))
	assert.NotNil(t, c.Get(platforms.Mastodon, "1"))
}

func TestReplyCacheConcurrentSets(t *testing.T) {
	c := NewReplyCache(newMemBackend())

	// The poller writes one goroutine per watched post. Every entry must
	// survive; an unguarded load-mutate-save would drop most of them.
	const posts = 20
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			postID := strconv.Itoa(i)
			c.Set(platforms.Mastodon, postID, models.ReplyCount{
				Platform: platforms.Mastodon,
				PostID:   postID,
				Count:    i,
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < posts; i++ {
		got := c.Get(platforms.Mastodon, strconv.Itoa(i))
		require.NotNil(t, got, "entry %d missing", i)
		assert.Equal(t, i, got.Count)
	}
}

func TestEmojiHistoryBounded(t *testing.T) {
	e := NewEmojiHistory(newMemBackend())

	e.Add("🔥")
	e.Add("🎉")
	e.Add("🔥") // re-adding moves to front, no duplicate

	recent := e.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "🔥", recent[0])
	assert.Equal(t, "🎉", recent[1])

	for i := 0; i < 30; i++ {
		e.Add(string(rune('a' + i)))
	}
	assert.Len(t, e.Recent(), maxRecentEmojis)
}

type deletingBackend struct {
	*memBackend
	deleted []string
}

func (d *deletingBackend) DeleteStore(name string) error {
	d.deleted = append(d.deleted, name)
	delete(d.memBackend.data, name)
	return nil
}

func TestEmojiHistoryClear(t *testing.T) {
	e := NewEmojiHistory(newMemBackend())
	e.Add("🔥")
	e.Clear()
	assert.Empty(t, e.Recent())

	// Backends with document deletion drop the store instead.
	backend := &deletingBackend{memBackend: newMemBackend()}
	e = NewEmojiHistory(backend)
	e.Add("🔥")
	e.Clear()
	assert.Empty(t, e.Recent())
	assert.Equal(t, []string{emojiStoreName}, backend.deleted)
}

func TestNotificationsAddDelete(t *testing.T) {
	n := NewNotifications(newMemBackend())

	n.Add(models.Notification{ID: "1", Message: "first"})
	n.Add(models.Notification{ID: "2", Message: "second", PostRefs: []models.PostRef{
		{Platform: platforms.Mastodon, PostID: "42"},
	}})

	list := n.List()
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID) // newest first

	refs := n.Delete("2")
	require.Len(t, refs, 1)
	assert.Equal(t, "42", refs[0].PostID)
	assert.Len(t, n.List(), 1)

	assert.Empty(t, n.Delete("missing"))
}
