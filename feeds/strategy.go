// Package feeds holds the interchangeable ranking strategies that turn the
// view database into ordered candidate lists of message keys. Strategies are
// small values constructed at the call site around an explicit store handle;
// they query live store state on every call and never snapshot.
package feeds

import (
	"context"
	"errors"

	"github.com/whyrusleeping/tansu/viewdb"
)

// Strategy produces an ordered candidate list for a viewer, plus a cheap
// "how many candidates are newer than this key" count for unread badges.
type Strategy interface {
	CandidateKeys(ctx context.Context, viewer string) ([]string, error)
	CountSince(ctx context.Context, viewer, key string) (int64, error)
}

// viewerID resolves a viewer key, treating an unknown viewer as an empty
// graph rather than an error.
func viewerID(db *viewdb.ViewDatabase, viewer string) (uint, bool, error) {
	id, err := db.AuthorID(viewer)
	if err != nil {
		if errors.Is(err, viewdb.ErrUnknownAuthor) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}
