package viewdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBanAuthorPurgesEverything(t *testing.T) {
	f := newFixture(t)

	mallory := "@mallory.ed25519"
	alice := "@alice.ed25519"

	p := f.msg(mallory, "%mp.sha256", PostContent{Type: "post", Text: "spam", Channel: "buystuff"})
	c := f.contact(mallory, alice, true, false)
	a := f.about(mallory, mallory, "friendly name")
	v := f.vote(mallory, "%ap.sha256", 1)
	ap := f.post(alice, "%ap.sha256", "legit")

	f.fill(p, c, a, v, ap)

	banned, unbanned, err := f.db.ApplyBanList([]string{HashForBan(mallory)})
	require.NoError(t, err)
	require.Equal(t, []string{mallory}, banned)
	require.Empty(t, unbanned)

	_, err = f.db.Post("%mp.sha256")
	require.ErrorIs(t, err, ErrUnknownMessage)

	follows, err := f.db.Follows(mallory)
	require.NoError(t, err)
	require.Empty(t, follows)

	_, err = f.db.CurrentAbout(mallory)
	require.Error(t, err)

	votes, err := f.db.VotesOn("%ap.sha256")
	require.NoError(t, err)
	require.Empty(t, votes)

	tagged, err := f.db.MessagesForHashtag("buystuff")
	require.NoError(t, err)
	require.Empty(t, tagged)

	// unrelated content survives
	_, err = f.db.Post("%ap.sha256")
	require.NoError(t, err)
}

func TestBannedAuthorRejectedAtIngestion(t *testing.T) {
	f := newFixture(t)

	mallory := "@mallory.ed25519"
	f.fill(f.post(mallory, "%m1.sha256", "pre-ban"))

	_, _, err := f.db.ApplyBanList([]string{HashForBan(mallory)})
	require.NoError(t, err)

	f.fill(f.post(mallory, "%m2.sha256", "post-ban"))

	_, err = f.db.Post("%m2.sha256")
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestUnbanReadmitsOnReingestion(t *testing.T) {
	f := newFixture(t)

	mallory := "@mallory.ed25519"
	p := f.post(mallory, "%m1.sha256", "hello again")
	f.fill(p)

	_, _, err := f.db.ApplyBanList([]string{HashForBan(mallory)})
	require.NoError(t, err)

	// unban alone resurrects nothing
	_, unbanned, err := f.db.ApplyBanList(nil)
	require.NoError(t, err)
	require.Equal(t, []string{mallory}, unbanned)

	_, err = f.db.Post("%m1.sha256")
	require.ErrorIs(t, err, ErrUnknownMessage)

	// a fresh replication pass restores the history
	f.fill(p)
	got, err := f.db.Post("%m1.sha256")
	require.NoError(t, err)
	require.Equal(t, "%m1.sha256", got.Key)
}

func TestBanSingleMessage(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	bad := f.msg(alice, "%bad.sha256", PostContent{Type: "post", Text: "oops", Channel: "tag"})
	good := f.post(alice, "%good.sha256", "fine")
	f.fill(bad, good)

	banned, _, err := f.db.ApplyBanList([]string{HashForBan("%bad.sha256")})
	require.NoError(t, err)
	require.Empty(t, banned, "message bans name no authors")

	_, err = f.db.Post("%bad.sha256")
	require.ErrorIs(t, err, ErrUnknownMessage)

	_, err = f.db.Post("%good.sha256")
	require.NoError(t, err)

	// redelivery of the banned message is rejected
	f.fill(bad)
	_, err = f.db.Post("%bad.sha256")
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestBanAboutMessageRevertsProfile(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	old := f.about(alice, alice, "old name")
	newer := f.about(alice, alice, "new name")
	f.fill(old, newer)

	about, err := f.db.CurrentAbout(alice)
	require.NoError(t, err)
	require.Equal(t, "new name", about.Name)

	// banning the newer message falls back to the older surviving assertion
	_, _, err = f.db.ApplyBanList([]string{HashForBan(newer.Key)})
	require.NoError(t, err)

	about, err = f.db.CurrentAbout(alice)
	require.NoError(t, err)
	require.Equal(t, "old name", about.Name)

	// banning the last one removes the profile entirely
	_, _, err = f.db.ApplyBanList([]string{HashForBan(newer.Key), HashForBan(old.Key)})
	require.NoError(t, err)

	_, err = f.db.CurrentAbout(alice)
	require.ErrorIs(t, err, ErrUnknownAuthor)
}

func TestBanContactMessageRecomputesEdge(t *testing.T) {
	f := newFixture(t)

	alice := "@alice.ed25519"
	bob := "@bob.ed25519"

	follow := f.contact(alice, bob, true, false)
	block := f.contact(alice, bob, false, true)
	f.fill(follow, block)

	blocks, err := f.db.Blocks(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob}, blocks)

	// banning the block message reverts the edge to the follow state
	_, _, err = f.db.ApplyBanList([]string{HashForBan(block.Key)})
	require.NoError(t, err)

	blocks, err = f.db.Blocks(alice)
	require.NoError(t, err)
	require.Empty(t, blocks)

	follows, err := f.db.Follows(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob}, follows)
}
