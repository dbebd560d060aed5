package viewdb

import (
	"gorm.io/gorm"
)

const (
	markReceiveLog   = "largest_seq_receive_log"
	markPublished    = "largest_seq_published"
	markNotPublished = "largest_seq_not_published"
)

// CursorState is how far the view has folded in the replicated log. The
// published and not-published marks are tracked separately because the local
// identity's own publishes can land in the log (and the view, via the direct
// publish path) before replication streams them back.
type CursorState struct {
	// ReceiveLog is the highest receive-order index absorbed, own
	// messages included.
	ReceiveLog int64

	// Published is the highest absorbed index among the local identity's
	// own messages.
	Published int64

	// NotPublished is the highest absorbed index among everyone else's.
	NotPublished int64
}

// ReplayFrom is the receive-order position the replication collaborator
// should resume streaming after. When own publishes have run ahead of
// replication, resuming from the foreign high-water mark avoids skipping
// foreign entries the naive single counter would jump over; re-delivered own
// messages get deduplicated by key.
func (c CursorState) ReplayFrom() int64 {
	if c.Published > c.NotPublished {
		return c.NotPublished
	}
	return c.ReceiveLog
}

func (c CursorState) publishMetrics() {
	receiveLogCursor.WithLabelValues("receive_log").Set(float64(c.ReceiveLog))
	receiveLogCursor.WithLabelValues("published").Set(float64(c.Published))
	receiveLogCursor.WithLabelValues("not_published").Set(float64(c.NotPublished))
}

// Cursor loads the persisted high-water marks.
func (v *ViewDatabase) Cursor() (CursorState, error) {
	var cur CursorState
	var err error
	if cur.ReceiveLog, err = loadSeqMark(v.db, markReceiveLog); err != nil {
		return cur, storageErr("cursor load", err)
	}
	if cur.Published, err = loadSeqMark(v.db, markPublished); err != nil {
		return cur, storageErr("cursor load", err)
	}
	if cur.NotPublished, err = loadSeqMark(v.db, markNotPublished); err != nil {
		return cur, storageErr("cursor load", err)
	}
	return cur, nil
}

func (v *ViewDatabase) storeCursor(tx *gorm.DB, cur CursorState) error {
	if err := storeSeqMark(tx, markReceiveLog, cur.ReceiveLog); err != nil {
		return storageErr("cursor store", err)
	}
	if err := storeSeqMark(tx, markPublished, cur.Published); err != nil {
		return storageErr("cursor store", err)
	}
	if err := storeSeqMark(tx, markNotPublished, cur.NotPublished); err != nil {
		return storageErr("cursor store", err)
	}
	return nil
}
