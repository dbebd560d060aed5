package feeds

import (
	"context"

	"github.com/whyrusleeping/tansu/viewdb"
)

// activityOrd is a root post's position in the recently-active ordering: the
// receive order of its newest reply, its own when it has none. Votes never
// promote. Contact events keep their own position.
const activityOrd = `
CASE WHEN m.type = 'post' THEN COALESCE(
  (SELECT MAX(rm.received_seq)
   FROM posts rp JOIN messages rm ON rm.id = rp.message_id
   WHERE rp.root_key = m.key),
  m.received_seq)
ELSE m.received_seq END`

// RecentlyActive is the posts-and-contacts candidate set reordered by thread
// activity: a root post bubbles up to its most recent reply. Ties break on
// receive order so pagination stays stable across repeated queries.
type RecentlyActive struct {
	DB *viewdb.ViewDatabase
}

func (s RecentlyActive) CandidateKeys(ctx context.Context, viewer string) ([]string, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil || !ok {
		return nil, err
	}

	var keys []string
	q := "SELECT m.key " + candidateSet +
		"\nORDER BY (" + activityOrd + ") DESC, m.received_seq DESC"
	if err := s.DB.DB().WithContext(ctx).Raw(q, id, id, id).Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s RecentlyActive) CountSince(ctx context.Context, viewer, key string) (int64, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil || !ok {
		return 0, err
	}

	ref, err := s.DB.Post(key)
	if err != nil {
		return 0, err
	}

	var refOrd int64
	refQ := "SELECT " + activityOrd + " FROM messages m WHERE m.key = ?"
	if err := s.DB.DB().WithContext(ctx).Raw(refQ, key).Scan(&refOrd).Error; err != nil {
		return 0, err
	}

	var n int64
	q := "SELECT COUNT(*) FROM (SELECT m.received_seq, " + activityOrd + " AS ord " + candidateSet +
		"\n) WHERE ord > ? OR (ord = ? AND received_seq > ?)"
	if err := s.DB.DB().WithContext(ctx).Raw(q, id, id, id, refOrd, refOrd, ref.ReceivedSeq).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
