package feeds

import (
	"context"

	"github.com/whyrusleeping/tansu/viewdb"
)

// candidateSet is the shared membership rule of the posts-and-contacts
// family: root posts and follow/block events from the viewer and the feeds
// they follow. Unfollow events (following and blocking both false) are
// structural state changes, never candidates. Banned and viewer-blocked
// authors are excluded.
const candidateSet = `
FROM messages m
JOIN authors a ON a.id = m.author_id
WHERE NOT a.banned
  AND m.author_id NOT IN (SELECT contact_id FROM contacts WHERE author_id = ? AND blocking)
  AND (m.author_id = ? OR m.author_id IN (SELECT contact_id FROM contacts WHERE author_id = ? AND following))
  AND (m.id IN (SELECT message_id FROM posts WHERE root_key = '')
       OR m.id IN (SELECT message_id FROM contact_events WHERE following OR blocking))`

// PostsAndContacts interleaves root posts with follow/block events in one
// receive-order timeline.
type PostsAndContacts struct {
	DB *viewdb.ViewDatabase
}

func (s PostsAndContacts) CandidateKeys(ctx context.Context, viewer string) ([]string, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil || !ok {
		return nil, err
	}

	var keys []string
	q := "SELECT m.key " + candidateSet + "\nORDER BY m.received_seq DESC"
	if err := s.DB.DB().WithContext(ctx).Raw(q, id, id, id).Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s PostsAndContacts) CountSince(ctx context.Context, viewer, key string) (int64, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil || !ok {
		return 0, err
	}

	ref, err := s.DB.Post(key)
	if err != nil {
		return 0, err
	}

	var n int64
	q := "SELECT COUNT(*) " + candidateSet + "\n  AND m.received_seq > ?"
	if err := s.DB.DB().WithContext(ctx).Raw(q, id, id, id, ref.ReceivedSeq).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
