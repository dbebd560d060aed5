package feeds

import (
	"context"

	"github.com/whyrusleeping/tansu/viewdb"
)

// HashtagListing is summary data for one hashtag in a listing.
type HashtagListing struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// HashtagStrategy orders the hashtag namespace for a listing screen.
type HashtagStrategy interface {
	Hashtags(ctx context.Context) ([]HashtagListing, error)
}

// PopularHashtags orders by usage count, most used first, first appearance
// as the deterministic tie-break. The join skips hashtags whose every use
// has been purged.
type PopularHashtags struct {
	DB *viewdb.ViewDatabase
}

func (s PopularHashtags) Hashtags(ctx context.Context) ([]HashtagListing, error) {
	var out []HashtagListing
	err := s.DB.DB().WithContext(ctx).Raw(`
SELECT h.name AS name, COUNT(ha.message_id) AS count
FROM hashtags h
JOIN hashtag_assignments ha ON ha.hashtag_id = h.id
JOIN messages m ON m.id = ha.message_id
GROUP BY h.id
ORDER BY count DESC, MIN(m.received_seq) ASC`).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentHashtags orders by first appearance, newest first. A hashtag's
// position is set by its earliest surviving use; later reuse does not move
// it up.
type RecentHashtags struct {
	DB *viewdb.ViewDatabase
}

func (s RecentHashtags) Hashtags(ctx context.Context) ([]HashtagListing, error) {
	var out []HashtagListing
	err := s.DB.DB().WithContext(ctx).Raw(`
SELECT h.name AS name, COUNT(ha.message_id) AS count
FROM hashtags h
JOIN hashtag_assignments ha ON ha.hashtag_id = h.id
JOIN messages m ON m.id = ha.message_id
GROUP BY h.id
ORDER BY MIN(m.received_seq) DESC`).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
