package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whyrusleeping/tansu/feeds"
	"github.com/whyrusleeping/tansu/viewdb"
)

const localIdentity = "@local.ed25519"

// seedPosts fills n root posts from one author and returns the open database.
// Keys are %post-0 .. %post-(n-1), oldest first, so candidate index i maps to
// key %post-(n-1-i) under newest-first ordering.
func seedPosts(t *testing.T, n int) *viewdb.ViewDatabase {
	t.Helper()

	db, err := viewdb.OpenInMemory(viewdb.Options{Identity: localIdentity})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	msgs := make([]viewdb.LogMessage, 0, n)
	for i := 0; i < n; i++ {
		raw, err := json.Marshal(viewdb.PostContent{Type: "post", Text: fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
		msgs = append(msgs, viewdb.LogMessage{
			Key:         fmt.Sprintf("%%post-%d.sha256", i),
			Author:      "@writer.ed25519",
			Sequence:    int64(i + 1),
			Claimed:     time.Now(),
			ReceivedSeq: int64(i + 1),
			Content:     raw,
		})
	}
	require.NoError(t, db.FillMessages(msgs))
	return db
}

func newProxy(t *testing.T, db *viewdb.ViewDatabase) *FeedProxy {
	t.Helper()

	p, err := NewFeedProxy(context.Background(), db, feeds.Posts{DB: db}, "@reader.ed25519")
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// resolvedCh registers a callback that forwards resolved indices on a channel.
func resolvedCh(p Proxy) <-chan int {
	ch := make(chan int, 256)
	p.OnItemResolved(func(i int) { ch <- i })
	return ch
}

func awaitIndex(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("index %d never resolved", want)
		}
	}
}

func TestFeedProxyCountAndBounds(t *testing.T) {
	db := seedPosts(t, 10)
	p := newProxy(t, db)

	require.Equal(t, 10, p.Count())
	require.Nil(t, p.ItemAt(-1))
	require.Nil(t, p.ItemAt(10))
	require.Nil(t, p.ItemAt(100))
}

func TestFeedProxyItemAtSchedulesResolution(t *testing.T) {
	db := seedPosts(t, 10)
	p := newProxy(t, db)
	ch := resolvedCh(p)

	// first access misses and schedules the fetch
	require.Nil(t, p.ItemAt(3))
	awaitIndex(t, ch, 3)

	m := p.ItemAt(3)
	require.NotNil(t, m)
	// newest-first: index 3 of 10 is the 7th post written
	require.Equal(t, "%post-6.sha256", m.Key)
}

func TestFeedProxyPrefetchClampsToCount(t *testing.T) {
	db := seedPosts(t, 5)
	p := newProxy(t, db)
	ch := resolvedCh(p)

	p.Prefetch(500)
	awaitIndex(t, ch, 4)

	for i := 0; i < 5; i++ {
		require.NotNil(t, p.ItemAt(i))
	}
}

func TestFeedProxyOverlappingPrefetches(t *testing.T) {
	db := seedPosts(t, 100)
	p := newProxy(t, db)
	ch := resolvedCh(p)

	// overlapping requests collapse; the highest one wins
	p.Prefetch(50)
	p.Prefetch(70)
	p.Prefetch(60)
	awaitIndex(t, ch, 70)

	for i := 0; i <= 70; i++ {
		m := p.ItemAt(i)
		require.NotNil(t, m, "index %d", i)
		require.Equal(t, fmt.Sprintf("%%post-%d.sha256", 99-i), m.Key)
	}
}

func TestFeedProxyResolvedNeverRegresses(t *testing.T) {
	db := seedPosts(t, 40)
	p := newProxy(t, db)
	ch := resolvedCh(p)

	p.Prefetch(30)
	awaitIndex(t, ch, 30)

	// a lower request after resolution is a no-op, nothing un-resolves
	p.Prefetch(5)
	require.NotNil(t, p.ItemAt(30))
	require.NotNil(t, p.ItemAt(5))
}

func TestFeedProxyCallbackFiresOncePerIndex(t *testing.T) {
	db := seedPosts(t, 20)
	p := newProxy(t, db)

	seen := make(chan int, 64)
	p.OnItemResolved(func(i int) { seen <- i })

	p.Prefetch(19)

	// the worker fires the final callback after all others
	counts := make(map[int]int)
	deadline := time.After(5 * time.Second)
	for counts[19] == 0 {
		select {
		case i := <-seen:
			counts[i]++
		case <-deadline:
			t.Fatal("prefetch never completed")
		}
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, 1, counts[i], "index %d", i)
	}
}

func TestFeedProxyRowDeletedAfterConstruction(t *testing.T) {
	db := seedPosts(t, 3)
	p := newProxy(t, db)
	ch := resolvedCh(p)

	// ban the author after the candidate list was materialized
	_, _, err := db.ApplyBanList([]string{viewdb.HashForBan("@writer.ed25519")})
	require.NoError(t, err)

	p.Prefetch(2)
	awaitIndex(t, ch, 2)

	// indices resolve but the rows are gone
	require.Equal(t, 3, p.Count())
	require.Nil(t, p.ItemAt(0))
}

func TestStaticProxy(t *testing.T) {
	items := []viewdb.Message{
		{Key: "%a.sha256"},
		{Key: "%b.sha256"},
	}
	p := NewStaticProxy(items)
	defer p.Close()

	require.Equal(t, 2, p.Count())
	require.Equal(t, "%a.sha256", p.ItemAt(0).Key)
	require.Equal(t, "%b.sha256", p.ItemAt(1).Key)
	require.Nil(t, p.ItemAt(-1))
	require.Nil(t, p.ItemAt(2))

	// no-ops, everything is already resolved
	p.Prefetch(10)
	p.OnItemResolved(func(int) {})
}
