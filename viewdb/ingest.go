package viewdb

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

// LogMessage is one already-verified entry from the replicated log, tagged
// with the global receive-sequence number the replication layer assigned.
type LogMessage struct {
	Key         string
	Author      string
	Sequence    int64
	Claimed     time.Time
	ReceivedSeq int64
	Content     []byte
}

// FillMessages folds a batch of log entries into the view. The whole batch
// is one transaction: a storage fault rolls everything back and the batch
// can be retried wholesale. Individual malformed messages are skipped, not
// fatal. Re-delivering any message, or the whole batch, is a no-op.
func (v *ViewDatabase) FillMessages(batch []LogMessage) error {
	v.writeLk.Lock()
	defer v.writeLk.Unlock()

	start := time.Now()
	defer func() {
		fillBatchHist.Observe(float64(time.Since(start).Milliseconds()))
	}()

	cur, err := v.Cursor()
	if err != nil {
		return err
	}

	err = v.db.Transaction(func(tx *gorm.DB) error {
		for _, msg := range batch {
			if err := v.fillOne(tx, msg); err != nil {
				return fmt.Errorf("filling message %s (%s,%d): %w", msg.Key, msg.Author, msg.Sequence, err)
			}

			// skipped or stored, the entry has been absorbed
			if msg.ReceivedSeq > cur.ReceiveLog {
				cur.ReceiveLog = msg.ReceivedSeq
			}
			if msg.Author == v.identity {
				if msg.ReceivedSeq > cur.Published {
					cur.Published = msg.ReceivedSeq
				}
			} else if msg.ReceivedSeq > cur.NotPublished {
				cur.NotPublished = msg.ReceivedSeq
			}
		}

		return v.storeCursor(tx, cur)
	})
	if err != nil {
		// row ids cached during the rolled-back transaction must not leak
		// into a retry, the rows were never committed
		v.authorCache.Purge()
		v.msgInfoCache.Purge()

		var se *StorageError
		if errors.As(err, &se) {
			return err
		}
		return storageErr("fill", err)
	}

	cur.publishMetrics()
	return nil
}

func (v *ViewDatabase) fillOne(tx *gorm.DB, msg LogMessage) error {
	if v.isBanned(msg.Author) || v.isBanned(msg.Key) {
		messagesSkipped.WithLabelValues("banned").Inc()
		return nil
	}

	// retention window, the local identity's own history always survives
	if msg.Author != v.identity && time.Since(msg.Claimed) > v.retention {
		messagesSkipped.WithLabelValues("expired").Inc()
		return nil
	}

	// dedup by key
	var existing int64
	if err := tx.Model(&Message{}).Where("key = ?", msg.Key).Count(&existing).Error; err != nil {
		return storageErr("dedup check", err)
	}
	if existing > 0 {
		messagesSkipped.WithLabelValues("duplicate").Inc()
		return nil
	}

	authorID, err := v.getOrCreateAuthor(tx, msg.Author)
	if err != nil {
		return err
	}

	var banned bool
	if err := tx.Model(&Author{}).Select("banned").Where("id = ?", authorID).Scan(&banned).Error; err != nil {
		return storageErr("ban flag check", err)
	}
	if banned {
		messagesSkipped.WithLabelValues("banned").Inc()
		return nil
	}

	v.checkSequenceGap(tx, msg, authorID)

	content, err := decodeContent(msg.Content)
	if err != nil {
		slog.Warn("skipping malformed message content", "key", msg.Key, "error", err)
		messagesSkipped.WithLabelValues("malformed").Inc()
		return nil
	}

	m := Message{
		Key:         msg.Key,
		AuthorID:    authorID,
		Sequence:    msg.Sequence,
		Claimed:     msg.Claimed,
		Received:    time.Now(),
		ReceivedSeq: msg.ReceivedSeq,
		Type:        content.contentType(),
		Raw:         msg.Content,
	}
	if _, ok := content.(UnsupportedContent); ok {
		m.Unsupported = true
	}

	if err := tx.Create(&m).Error; err != nil {
		return storageErr("message create", err)
	}
	v.msgInfoCache.Add(m.Key, cachedMsgInfo{ID: m.ID, AuthorID: m.AuthorID})

	switch c := content.(type) {
	case PostContent:
		err = v.fillPost(tx, &m, c)
	case ContactContent:
		err = v.fillContact(tx, &m, c)
	case AboutContent:
		err = v.fillAbout(tx, &m, c)
	case VoteContent:
		err = v.fillVote(tx, &m, c)
	case DropContentRequest:
		err = v.fillDropContentRequest(tx, &m, c)
	case RoomAliasContent:
		err = v.fillRoomAlias(tx, &m, c)
	case UnsupportedContent:
		// the message row alone keeps raw counts honest
	}
	if err != nil {
		return err
	}

	messagesIngested.WithLabelValues(m.Type).Inc()
	return nil
}

// checkSequenceGap flags a hole in an author's per-feed numbering. That is a
// signal to distrust the feed until a resync, not grounds to reject the
// message here; repair lives with the replication layer.
func (v *ViewDatabase) checkSequenceGap(tx *gorm.DB, msg LogMessage, authorID uint) {
	var maxSeq int64
	if err := tx.Model(&Message{}).Where("author_id = ?", authorID).
		Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error; err != nil {
		return
	}
	if maxSeq > 0 && msg.Sequence > maxSeq+1 {
		slog.Warn("sequence gap in feed", "author", msg.Author, "have", maxSeq, "got", msg.Sequence)
		messagesSkipped.WithLabelValues("seqgap").Inc()
	}
}

func (v *ViewDatabase) fillPost(tx *gorm.DB, m *Message, c PostContent) error {
	root := c.Root
	if root == m.Key {
		root = ""
	}

	p := Post{
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		RootKey:   root,
		Text:      c.Text,
	}
	if err := tx.Create(&p).Error; err != nil {
		return storageErr("post create", err)
	}

	if root != "" {
		rinfo, err := v.msgInfoForKey(tx, root)
		if err == nil && rinfo.AuthorID == v.identityID && m.AuthorID != v.identityID {
			if err := v.addReport(tx, m, ReportKindReply); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, ErrUnknownMessage) {
			return err
		}
	}

	for _, tag := range hashtagsFromPost(c) {
		if err := v.assignHashtag(tx, m.ID, tag); err != nil {
			return err
		}
	}

	for _, ml := range c.Mentions {
		if strings.HasPrefix(ml.Link, "#") {
			continue
		}
		men := Mention{MessageID: m.ID, Link: ml.Link}
		if strings.HasPrefix(ml.Link, "@") {
			mid, err := v.getOrCreateAuthor(tx, ml.Link)
			if err != nil {
				return err
			}
			men.AuthorID = mid
		}
		if err := tx.Create(&men).Error; err != nil {
			return storageErr("mention create", err)
		}

		if men.AuthorID == v.identityID && m.AuthorID != v.identityID {
			if err := v.addReport(tx, m, ReportKindMention); err != nil {
				return err
			}
		}
	}

	return nil
}

func (v *ViewDatabase) fillContact(tx *gorm.DB, m *Message, c ContactContent) error {
	if c.Contact == "" {
		messagesSkipped.WithLabelValues("malformed").Inc()
		return nil
	}

	contactID, err := v.getOrCreateAuthor(tx, c.Contact)
	if err != nil {
		return err
	}

	if err := tx.Create(&ContactEvent{
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		ContactID: contactID,
		Following: c.Following,
		Blocking:  c.Blocking,
	}).Error; err != nil {
		return storageErr("contact event create", err)
	}

	// current edge is last-writer-by-receive-order, older deliveries must
	// not clobber a newer state
	if err := tx.Exec(`
INSERT INTO contacts (author_id, contact_id, following, blocking, received_seq)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (author_id, contact_id)
DO UPDATE SET
    following = excluded.following,
    blocking = excluded.blocking,
    received_seq = excluded.received_seq
WHERE excluded.received_seq > contacts.received_seq`,
		m.AuthorID, contactID, c.Following, c.Blocking, m.ReceivedSeq).Error; err != nil {
		return storageErr("contact upsert", err)
	}

	if c.Following && contactID == v.identityID && m.AuthorID != v.identityID {
		return v.addReport(tx, m, ReportKindFollow)
	}

	return nil
}

func (v *ViewDatabase) fillAbout(tx *gorm.DB, m *Message, c AboutContent) error {
	if !strings.HasPrefix(c.About, "@") {
		// abouts naming a message carry no profile state the view serves
		return nil
	}

	aboutID, err := v.getOrCreateAuthor(tx, c.About)
	if err != nil {
		return err
	}

	pwh := false
	if c.PublicWebHosting != nil {
		pwh = *c.PublicWebHosting
	}

	if err := tx.Exec(`
INSERT INTO abouts (author_id, about_id, name, description, image, public_web_hosting, received_seq)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (author_id, about_id)
DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    image = excluded.image,
    public_web_hosting = excluded.public_web_hosting,
    received_seq = excluded.received_seq
WHERE excluded.received_seq > abouts.received_seq`,
		m.AuthorID, aboutID, c.Name, c.Description, string(c.Image), pwh, m.ReceivedSeq).Error; err != nil {
		return storageErr("about upsert", err)
	}

	return nil
}

func (v *ViewDatabase) fillVote(tx *gorm.DB, m *Message, c VoteContent) error {
	if c.Vote.Link == "" {
		messagesSkipped.WithLabelValues("malformed").Inc()
		return nil
	}

	// the voted-on message may not exist locally, store the link by key
	if err := tx.Create(&Vote{
		MessageID:  m.ID,
		AuthorID:   m.AuthorID,
		LinkKey:    c.Vote.Link,
		Value:      c.Vote.Value,
		Expression: c.Vote.Expression,
	}).Error; err != nil {
		return storageErr("vote create", err)
	}

	return nil
}

// fillDropContentRequest deletes an earlier message of the same author,
// identified by sequence and key. Requests naming someone else's message or
// a mismatched key are ignored.
func (v *ViewDatabase) fillDropContentRequest(tx *gorm.DB, m *Message, c DropContentRequest) error {
	var target Message
	if err := tx.Find(&target, "author_id = ? AND sequence = ?", m.AuthorID, c.Sequence).Error; err != nil {
		return storageErr("drop target lookup", err)
	}
	if target.ID == 0 || target.Key != c.Hash {
		return nil
	}

	return v.deleteMessageRows(tx, []uint{target.ID})
}

func (v *ViewDatabase) fillRoomAlias(tx *gorm.DB, m *Message, c RoomAliasContent) error {
	if c.Alias == "" {
		messagesSkipped.WithLabelValues("malformed").Inc()
		return nil
	}

	switch c.Action {
	case RoomAliasRegistered:
		var room Room
		if err := tx.Find(&room, "key = ?", c.Room).Error; err != nil {
			return storageErr("room lookup", err)
		}

		// room.ID is 0 when the room is not yet known, recorded anyway
		if err := tx.Exec(`
INSERT INTO room_aliases (room_id, room_key, author_id, alias, url)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (author_id, alias)
DO UPDATE SET room_id = excluded.room_id, room_key = excluded.room_key, url = excluded.url`,
			room.ID, c.Room, m.AuthorID, c.Alias, c.AliasURL).Error; err != nil {
			return storageErr("alias upsert", err)
		}
	case RoomAliasRevoked:
		if err := tx.Where("author_id = ? AND alias = ?", m.AuthorID, c.Alias).
			Delete(&RoomAlias{}).Error; err != nil {
			return storageErr("alias revoke", err)
		}
	default:
		slog.Debug("unrecognized room alias action", "action", c.Action, "key", m.Key)
	}

	return nil
}

func (v *ViewDatabase) assignHashtag(tx *gorm.DB, msgID uint, name string) error {
	var tag Hashtag
	if err := tx.FirstOrCreate(&tag, Hashtag{Name: name}).Error; err != nil {
		return storageErr("hashtag create", err)
	}
	if err := tx.Exec(
		"INSERT INTO hashtag_assignments (hashtag_id, message_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		tag.ID, msgID).Error; err != nil {
		return storageErr("hashtag assign", err)
	}
	return nil
}

func (v *ViewDatabase) addReport(tx *gorm.DB, m *Message, kind string) error {
	if err := tx.Create(&Report{
		Created:   time.Now(),
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		Kind:      kind,
	}).Error; err != nil {
		return storageErr("report create", err)
	}
	return nil
}

// AddRoom registers a known room so later alias announcements (and earlier
// ones, see backfill below) can be associated with it.
func (v *ViewDatabase) AddRoom(key, address string) error {
	v.writeLk.Lock()
	defer v.writeLk.Unlock()

	return v.db.Transaction(func(tx *gorm.DB) error {
		var room Room
		if err := tx.FirstOrCreate(&room, Room{Key: key}).Error; err != nil {
			return storageErr("room create", err)
		}
		if room.Address != address {
			if err := tx.Model(&Room{}).Where("id = ?", room.ID).Update("address", address).Error; err != nil {
				return storageErr("room update", err)
			}
		}

		// claim aliases that arrived before the room was known
		if err := tx.Exec(
			"UPDATE room_aliases SET room_id = ? WHERE room_id = 0 AND room_key = ?",
			room.ID, key).Error; err != nil {
			return storageErr("alias backfill", err)
		}

		return nil
	})
}
