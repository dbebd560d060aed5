package viewdb

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testIdentity = "@local.ed25519"

// fixture builds log messages with monotonically assigned receive-order and
// per-author sequence numbers, the way the replication layer would.
type fixture struct {
	t  *testing.T
	db *ViewDatabase

	rxSeq int64
	seqs  map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := OpenInMemory(Options{Identity: testIdentity})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &fixture{t: t, db: db, seqs: make(map[string]int64)}
}

func (f *fixture) msg(author, key string, content any) LogMessage {
	f.t.Helper()

	raw, err := json.Marshal(content)
	require.NoError(f.t, err)

	f.rxSeq++
	f.seqs[author]++
	return LogMessage{
		Key:         key,
		Author:      author,
		Sequence:    f.seqs[author],
		Claimed:     time.Now(),
		ReceivedSeq: f.rxSeq,
		Content:     raw,
	}
}

func (f *fixture) post(author, key, text string) LogMessage {
	return f.msg(author, key, PostContent{Type: "post", Text: text})
}

func (f *fixture) reply(author, key, text, root string) LogMessage {
	return f.msg(author, key, PostContent{Type: "post", Text: text, Root: root, Branch: StringOrSlice{root}})
}

func (f *fixture) contact(author, target string, following, blocking bool) LogMessage {
	key := fmt.Sprintf("%%contact-%s-%s-%d.sha256", author, target, f.rxSeq+1)
	return f.msg(author, key, ContactContent{Type: "contact", Contact: target, Following: following, Blocking: blocking})
}

func (f *fixture) about(author, subject, name string) LogMessage {
	key := fmt.Sprintf("%%about-%s-%d.sha256", author, f.rxSeq+1)
	return f.msg(author, key, AboutContent{Type: "about", About: subject, Name: name})
}

func (f *fixture) vote(author, link string, value int) LogMessage {
	key := fmt.Sprintf("%%vote-%s-%d.sha256", author, f.rxSeq+1)
	return f.msg(author, key, VoteContent{Type: "vote", Vote: VoteBody{Link: link, Value: value}})
}

func (f *fixture) fill(msgs ...LogMessage) {
	f.t.Helper()
	require.NoError(f.t, f.db.FillMessages(msgs))
}
