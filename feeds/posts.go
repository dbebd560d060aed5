package feeds

import (
	"context"

	"github.com/whyrusleeping/tansu/viewdb"
)

// Posts is the plain post timeline: posts by followed feeds (or, with
// OnlyFollowed false, by anyone the viewer does not block), newest first by
// receive order. Replies are excluded unless IncludeReplies is set. Banned
// authors never surface.
type Posts struct {
	DB *viewdb.ViewDatabase

	OnlyFollowed   bool
	IncludeReplies bool
}

func (s Posts) where() string {
	q := `
FROM messages m
JOIN posts p ON p.message_id = m.id
JOIN authors a ON a.id = m.author_id
WHERE NOT a.banned
  AND m.author_id NOT IN (SELECT contact_id FROM contacts WHERE author_id = ? AND blocking)`
	if s.OnlyFollowed {
		q += `
  AND (m.author_id = ? OR m.author_id IN (SELECT contact_id FROM contacts WHERE author_id = ? AND following))`
	}
	if !s.IncludeReplies {
		q += `
  AND p.root_key = ''`
	}
	return q
}

func (s Posts) args(id uint) []any {
	if s.OnlyFollowed {
		return []any{id, id, id}
	}
	return []any{id}
}

func (s Posts) CandidateKeys(ctx context.Context, viewer string) ([]string, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil {
		return nil, err
	}
	if !ok && s.OnlyFollowed {
		return nil, nil
	}

	var keys []string
	q := "SELECT m.key " + s.where() + "\nORDER BY m.received_seq DESC"
	if err := s.DB.DB().WithContext(ctx).Raw(q, s.args(id)...).Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s Posts) CountSince(ctx context.Context, viewer, key string) (int64, error) {
	id, ok, err := viewerID(s.DB, viewer)
	if err != nil {
		return 0, err
	}
	if !ok && s.OnlyFollowed {
		return 0, nil
	}

	ref, err := s.DB.Post(key)
	if err != nil {
		return 0, err
	}

	var n int64
	q := "SELECT COUNT(*) " + s.where() + "\n  AND m.received_seq > ?"
	args := append(s.args(id), ref.ReceivedSeq)
	if err := s.DB.DB().WithContext(ctx).Raw(q, args...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
