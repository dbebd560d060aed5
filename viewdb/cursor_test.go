package viewdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorTracksMarksSeparately(t *testing.T) {
	f := newFixture(t)

	f.fill(
		f.post("@alice.ed25519", "%a1.sha256", "one"),
		f.post("@bob.ed25519", "%b1.sha256", "two"),
	)

	cur, err := f.db.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 2, cur.ReceiveLog)
	require.EqualValues(t, 2, cur.NotPublished)
	require.EqualValues(t, 0, cur.Published)
	require.EqualValues(t, 2, cur.ReplayFrom())
}

func TestCursorOwnPublishRunsAhead(t *testing.T) {
	f := newFixture(t)

	f.fill(f.post("@alice.ed25519", "%a1.sha256", "one"))

	// the direct publish path reflects our own message before replication
	// streams the intervening foreign entries
	mine := f.post(testIdentity, "%mine.sha256", "published")
	mine.ReceivedSeq = 10
	f.fill(mine)

	cur, err := f.db.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 10, cur.ReceiveLog)
	require.EqualValues(t, 10, cur.Published)
	require.EqualValues(t, 1, cur.NotPublished)

	// replay must resume from the foreign mark so entries 2..9 are not
	// skipped; our own message at 10 will simply dedup
	require.EqualValues(t, 1, cur.ReplayFrom())

	for i, key := range []string{"%b2.sha256", "%b3.sha256"} {
		m := f.post("@bob.ed25519", key, "catching up")
		m.ReceivedSeq = int64(i + 2)
		f.fill(m)
	}
	f.fill(mine) // replication delivers our own message back

	stats, err := f.db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.Messages, "own message not duplicated")

	cur, err = f.db.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 3, cur.NotPublished)
	require.EqualValues(t, 10, cur.ReceiveLog)
}

func TestCursorSkippedEntriesStillAbsorbed(t *testing.T) {
	f := newFixture(t)

	bad := f.post("@alice.ed25519", "%bad.sha256", "")
	bad.Content = []byte("not json at all")
	f.fill(bad)

	cur, err := f.db.Cursor()
	require.NoError(t, err)
	require.EqualValues(t, 1, cur.ReceiveLog, "skipped entries advance the cursor")
}
