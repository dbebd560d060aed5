package viewdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGraphQueries(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	bob := "@bob.ed25519"
	carol := "@carol.ed25519"
	eve := "@eve.ed25519"

	f.fill(
		f.contact(alice, bob, true, false),
		f.contact(alice, carol, true, false),
		f.contact(bob, alice, true, false),
		f.contact(alice, eve, false, true),
		f.contact(eve, alice, false, true),
	)

	follows, err := f.db.Follows(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob, carol}, follows)

	followers, err := f.db.FollowedBy(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob}, followers)

	blocks, err := f.db.Blocks(alice)
	require.NoError(t, err)
	require.Equal(t, []string{eve}, blocks)

	blockers, err := f.db.BlockedBy(alice)
	require.NoError(t, err)
	require.Equal(t, []string{eve}, blockers)

	friends, err := f.db.BidirectionalFollows(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob}, friends)

	_, err = f.db.Follows("@nobody.ed25519")
	require.ErrorIs(t, err, ErrUnknownAuthor)
}

func TestFeedIsAuthorSequenceOrdered(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	f.fill(
		f.post(alice, "%a1.sha256", "one"),
		f.post("@bob.ed25519", "%b1.sha256", "noise"),
		f.post(alice, "%a2.sha256", "two"),
	)

	feed, err := f.db.Feed(alice)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	require.Equal(t, "%a1.sha256", feed[0].Key)
	require.Equal(t, "%a2.sha256", feed[1].Key)
}

func TestMessagesByKeysPreservesOrder(t *testing.T) {
	f := newFixture(t)

	f.fill(
		f.post("@alice.ed25519", "%a1.sha256", "one"),
		f.post("@alice.ed25519", "%a2.sha256", "two"),
	)

	msgs, err := f.db.MessagesByKeys([]string{"%a2.sha256", "%missing.sha256", "%a1.sha256"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "%a2.sha256", msgs[0].Key)
	require.Equal(t, "%a1.sha256", msgs[1].Key)
}

func TestStatsAndMessageCount(t *testing.T) {
	f := newFixture(t)

	f.fill(
		f.post("@alice.ed25519", "%a1.sha256", "one"),
		f.contact("@alice.ed25519", "@bob.ed25519", true, false),
		f.vote("@bob.ed25519", "%a1.sha256", 1),
	)

	stats, err := f.db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Messages)
	require.EqualValues(t, 1, stats.Posts)
	require.EqualValues(t, 1, stats.Contacts)
	require.EqualValues(t, 1, stats.Votes)
	// alice, bob and the local identity
	require.EqualValues(t, 3, stats.Authors)

	n, err := f.db.MessageCount(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	n, err = f.db.MessageCount(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestHashtagListingQueries(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	f.fill(
		f.msg(alice, "%h1.sha256", PostContent{Type: "post", Text: "a", Channel: "golang"}),
		f.msg(alice, "%h2.sha256", PostContent{Type: "post", Text: "b", Channel: "golang"}),
		f.msg(alice, "%h3.sha256", PostContent{Type: "post", Text: "c", Mentions: []MentionLink{{Link: "#sqlite"}}}),
	)

	msgs, err := f.db.MessagesForHashtag("golang")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "%h2.sha256", msgs[0].Key, "newest first")

	msgs, err = f.db.MessagesForHashtag("sqlite")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDropResyncRebuildsSameView(t *testing.T) {
	f := newFixture(t)

	batch := []LogMessage{
		f.post("@alice.ed25519", "%a1.sha256", "one"),
		f.contact("@alice.ed25519", "@bob.ed25519", true, false),
	}
	f.fill(batch...)

	before, err := f.db.Stats()
	require.NoError(t, err)

	// fresh store for the same identity, refilled from the log
	db2, err := OpenInMemory(Options{Identity: testIdentity})
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, db2.FillMessages(batch))
	after, err := db2.Stats()
	require.NoError(t, err)
	require.Equal(t, before, after)
}
