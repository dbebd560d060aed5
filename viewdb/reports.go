package viewdb

import (
	"errors"
)

// Mentions returns messages that mention the local identity, newest first.
func (v *ViewDatabase) Mentions() ([]Message, error) {
	var msgs []Message
	err := v.db.Raw(`
SELECT m.* FROM messages m
JOIN mentions mn ON mn.message_id = m.id
WHERE mn.author_id = ? AND m.author_id != ?
ORDER BY m.received_seq DESC`, v.identityID, v.identityID).Scan(&msgs).Error
	if err != nil {
		return nil, storageErr("mentions query", err)
	}
	return msgs, nil
}

// Reports lists the notification surface entries, newest first.
func (v *ViewDatabase) Reports() ([]Report, error) {
	var reports []Report
	if err := v.db.Order("id DESC").Find(&reports).Error; err != nil {
		return nil, storageErr("reports query", err)
	}
	return reports, nil
}

func (v *ViewDatabase) CountUnreadReports() (int64, error) {
	var n int64
	if err := v.db.Model(&Report{}).Where("read = ?", false).Count(&n).Error; err != nil {
		return 0, storageErr("reports count", err)
	}
	return n, nil
}

// MarkMessageAsRead marks every report raised by the given message as read.
// Unknown keys are a no-op, the message may have been purged meanwhile.
func (v *ViewDatabase) MarkMessageAsRead(key string) error {
	info, err := v.msgInfoForKey(v.db, key)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			return nil
		}
		return err
	}

	if err := v.db.Model(&Report{}).Where("message_id = ?", info.ID).Update("read", true).Error; err != nil {
		return storageErr("report mark read", err)
	}
	return nil
}
