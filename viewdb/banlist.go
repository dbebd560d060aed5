package viewdb

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"gorm.io/gorm"
)

// HashForBan is the hash under which author and message keys appear on a
// ban list.
func HashForBan(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func (v *ViewDatabase) isBanned(key string) bool {
	v.banLk.Lock()
	defer v.banLk.Unlock()
	return v.bannedSet[HashForBan(key)]
}

func (v *ViewDatabase) loadBanSet() error {
	var entries []BanEntry
	if err := v.db.Find(&entries).Error; err != nil {
		return storageErr("ban set load", err)
	}

	v.banLk.Lock()
	defer v.banLk.Unlock()
	v.bannedSet = make(map[string]bool, len(entries))
	for _, e := range entries {
		v.bannedSet[e.Hash] = true
	}
	return nil
}

// ApplyBanList replaces the applied ban set with hashes and reconciles the
// store: newly banned authors lose every row they produced and are rejected
// at ingestion from here on; newly banned messages lose just their own rows;
// unbanned authors are re-admitted but their deleted history only returns
// through re-ingestion. The whole application is one transaction. Returns
// the keys of newly banned and newly unbanned authors.
func (v *ViewDatabase) ApplyBanList(hashes []string) (banned []string, unbanned []string, err error) {
	v.writeLk.Lock()
	defer v.writeLk.Unlock()

	next := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		next[h] = true
	}

	err = v.db.Transaction(func(tx *gorm.DB) error {
		var prev []BanEntry
		if err := tx.Find(&prev).Error; err != nil {
			return storageErr("ban set load", err)
		}
		prevSet := make(map[string]bool, len(prev))
		for _, e := range prev {
			prevSet[e.Hash] = true
		}

		var added, removed []string
		for h := range next {
			if !prevSet[h] {
				added = append(added, h)
			}
		}
		for h := range prevSet {
			if !next[h] {
				removed = append(removed, h)
			}
		}

		if len(added) == 0 && len(removed) == 0 {
			return nil
		}

		addedSet := make(map[string]bool, len(added))
		for _, h := range added {
			addedSet[h] = true
		}
		removedSet := make(map[string]bool, len(removed))
		for _, h := range removed {
			removedSet[h] = true
		}

		// the list carries hashes, so walk our keys and compare
		var authors []Author
		if err := tx.Find(&authors).Error; err != nil {
			return storageErr("author scan", err)
		}
		for _, a := range authors {
			h := HashForBan(a.Key)
			switch {
			case addedSet[h]:
				if err := tx.Model(&Author{}).Where("id = ?", a.ID).Update("banned", true).Error; err != nil {
					return storageErr("author ban", err)
				}
				if err := v.deleteAuthorRows(tx, a.ID); err != nil {
					return err
				}
				banned = append(banned, a.Key)
				slog.Info("banned author", "author", a.Key)
			case removedSet[h] && a.Banned:
				if err := tx.Model(&Author{}).Where("id = ?", a.ID).Update("banned", false).Error; err != nil {
					return storageErr("author unban", err)
				}
				unbanned = append(unbanned, a.Key)
				slog.Info("unbanned author", "author", a.Key)
			}
		}

		var msgs []Message
		if err := tx.Select("id", "key").Find(&msgs).Error; err != nil {
			return storageErr("message scan", err)
		}
		var msgIDs []uint
		for _, m := range msgs {
			if addedSet[HashForBan(m.Key)] {
				msgIDs = append(msgIDs, m.ID)
			}
		}
		if len(msgIDs) > 0 {
			if err := v.deleteMessageRows(tx, msgIDs); err != nil {
				return err
			}
		}

		if err := tx.Where("1 = 1").Delete(&BanEntry{}).Error; err != nil {
			return storageErr("ban set clear", err)
		}
		for h := range next {
			if err := tx.Create(&BanEntry{Hash: h}).Error; err != nil {
				return storageErr("ban set store", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	v.banLk.Lock()
	v.bannedSet = next
	v.banLk.Unlock()

	return banned, unbanned, nil
}

// deleteAuthorRows purges everything a banned author contributed to the
// view: their messages with all derived rows, the edges and abouts they
// asserted, their aliases and the reports they triggered.
func (v *ViewDatabase) deleteAuthorRows(tx *gorm.DB, authorID uint) error {
	var msgIDs []uint
	if err := tx.Model(&Message{}).Where("author_id = ?", authorID).Pluck("id", &msgIDs).Error; err != nil {
		return storageErr("ban purge", err)
	}
	if len(msgIDs) > 0 {
		if err := v.deleteMessageRows(tx, msgIDs); err != nil {
			return err
		}
	}

	for _, del := range []func() *gorm.DB{
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&Contact{}) },
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&ContactEvent{}) },
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&About{}) },
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&RoomAlias{}) },
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&Report{}) },
		func() *gorm.DB { return tx.Where("author_id = ?", authorID).Delete(&Vote{}) },
	} {
		if res := del(); res.Error != nil {
			return storageErr("ban purge", res.Error)
		} else {
			banPurgedRows.Add(float64(res.RowsAffected))
		}
	}

	return nil
}

// deleteMessageRows removes messages and the rows strictly derived from
// them. Current contact edges that came from a deleted message are
// recomputed from the surviving events.
func (v *ViewDatabase) deleteMessageRows(tx *gorm.DB, msgIDs []uint) error {
	type pair struct {
		AuthorID  uint
		ContactID uint
	}
	var pairs []pair
	if err := tx.Model(&ContactEvent{}).Where("message_id IN ?", msgIDs).
		Select("author_id", "contact_id").Scan(&pairs).Error; err != nil {
		return storageErr("message purge", err)
	}

	var seqs []int64
	if err := tx.Model(&Message{}).Where("id IN ?", msgIDs).Pluck("received_seq", &seqs).Error; err != nil {
		return storageErr("message purge", err)
	}

	type aboutRef struct {
		AuthorID uint
		AboutID  uint
	}
	var aboutRefs []aboutRef
	if len(seqs) > 0 {
		if err := tx.Model(&About{}).Where("received_seq IN ?", seqs).
			Select("author_id", "about_id").Scan(&aboutRefs).Error; err != nil {
			return storageErr("message purge", err)
		}
	}

	for _, del := range []func() *gorm.DB{
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&Post{}) },
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&ContactEvent{}) },
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&Vote{}) },
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&HashtagAssignment{}) },
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&Mention{}) },
		func() *gorm.DB { return tx.Where("message_id IN ?", msgIDs).Delete(&Report{}) },
		func() *gorm.DB { return tx.Where("id IN ?", msgIDs).Delete(&Message{}) },
	} {
		if res := del(); res.Error != nil {
			return storageErr("message purge", res.Error)
		} else {
			banPurgedRows.Add(float64(res.RowsAffected))
		}
	}

	// single-valued facts written by a deleted message fall back to the
	// newest surviving assertion, like contact edges below
	for _, ar := range aboutRefs {
		if err := v.recomputeAbout(tx, ar.AuthorID, ar.AboutID); err != nil {
			return err
		}
	}

	for _, p := range pairs {
		var ev struct {
			Following   bool
			Blocking    bool
			ReceivedSeq int64
		}
		found := tx.Raw(`
SELECT ce.following, ce.blocking, m.received_seq
FROM contact_events ce JOIN messages m ON m.id = ce.message_id
WHERE ce.author_id = ? AND ce.contact_id = ?
ORDER BY m.received_seq DESC LIMIT 1`, p.AuthorID, p.ContactID).Scan(&ev)
		if found.Error != nil {
			return storageErr("contact recompute", found.Error)
		}
		if found.RowsAffected == 0 {
			if err := tx.Where("author_id = ? AND contact_id = ?", p.AuthorID, p.ContactID).
				Delete(&Contact{}).Error; err != nil {
				return storageErr("contact recompute", err)
			}
			continue
		}
		if err := tx.Exec(`
INSERT INTO contacts (author_id, contact_id, following, blocking, received_seq)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (author_id, contact_id)
DO UPDATE SET following = excluded.following, blocking = excluded.blocking, received_seq = excluded.received_seq`,
			p.AuthorID, p.ContactID, ev.Following, ev.Blocking, ev.ReceivedSeq).Error; err != nil {
			return storageErr("contact recompute", err)
		}
	}

	// stale cache entries would resolve deleted keys
	v.msgInfoCache.Purge()

	return nil
}

// recomputeAbout rederives the (author, subject) profile row from the newest
// surviving about message, deleting the row when none remains. The raw
// content kept on every message row is the source.
func (v *ViewDatabase) recomputeAbout(tx *gorm.DB, authorID, aboutID uint) error {
	var subject string
	if err := tx.Model(&Author{}).Where("id = ?", aboutID).Pluck("key", &subject).Error; err != nil {
		return storageErr("about recompute", err)
	}

	var msgs []Message
	if err := tx.Where("author_id = ? AND type = ?", authorID, "about").
		Order("received_seq DESC").Find(&msgs).Error; err != nil {
		return storageErr("about recompute", err)
	}

	for _, m := range msgs {
		content, err := decodeContent(m.Raw)
		if err != nil {
			continue
		}
		c, ok := content.(AboutContent)
		if !ok || c.About != subject {
			continue
		}

		pwh := c.PublicWebHosting != nil && *c.PublicWebHosting
		if err := tx.Exec(`
INSERT INTO abouts (author_id, about_id, name, description, image, public_web_hosting, received_seq)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (author_id, about_id)
DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    image = excluded.image,
    public_web_hosting = excluded.public_web_hosting,
    received_seq = excluded.received_seq`,
			authorID, aboutID, c.Name, c.Description, string(c.Image), pwh, m.ReceivedSeq).Error; err != nil {
			return storageErr("about recompute", err)
		}
		return nil
	}

	if err := tx.Where("author_id = ? AND about_id = ?", authorID, aboutID).
		Delete(&About{}).Error; err != nil {
		return storageErr("about recompute", err)
	}
	return nil
}
