package viewdb

import (
	"time"
)

// Post returns the stored message for a key. Deleted and never-seen keys
// both come back as ErrUnknownMessage.
func (v *ViewDatabase) Post(key string) (*Message, error) {
	var m Message
	if err := v.db.Find(&m, "key = ?", key).Error; err != nil {
		return nil, storageErr("post query", err)
	}
	if m.ID == 0 {
		return nil, ErrUnknownMessage
	}
	return &m, nil
}

// MessagesByKeys resolves keys to full rows, preserving the input order.
// Keys with no row are silently absent from the result.
func (v *ViewDatabase) MessagesByKeys(keys []string) ([]Message, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var rows []Message
	if err := v.db.Find(&rows, "key IN ?", keys).Error; err != nil {
		return nil, storageErr("messages query", err)
	}

	byKey := make(map[string]Message, len(rows))
	for _, m := range rows {
		byKey[m.Key] = m
	}

	out := make([]Message, 0, len(rows))
	for _, k := range keys {
		if m, ok := byKey[k]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Feed returns one author's messages in their own sequence order.
func (v *ViewDatabase) Feed(author string) ([]Message, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := v.db.Where("author_id = ?", id).Order("sequence ASC").Find(&msgs).Error; err != nil {
		return nil, storageErr("feed query", err)
	}
	return msgs, nil
}

// RepliesTo returns the thread under a root: posts pointing at it as root
// plus votes linking to it, in receive order.
func (v *ViewDatabase) RepliesTo(rootKey string) ([]Message, error) {
	var msgs []Message
	err := v.db.Raw(`
SELECT m.* FROM messages m
WHERE m.id IN (SELECT message_id FROM posts WHERE root_key = ?)
   OR m.id IN (SELECT message_id FROM votes WHERE link_key = ?)
ORDER BY m.received_seq ASC`, rootKey, rootKey).Scan(&msgs).Error
	if err != nil {
		return nil, storageErr("replies query", err)
	}
	return msgs, nil
}

func (v *ViewDatabase) authorKeysWhere(q string, id uint) ([]string, error) {
	var keys []string
	if err := v.db.Raw(q, id).Scan(&keys).Error; err != nil {
		return nil, storageErr("graph query", err)
	}
	return keys, nil
}

// Follows returns the keys of feeds the author currently follows.
func (v *ViewDatabase) Follows(author string) ([]string, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}
	return v.authorKeysWhere(`
SELECT a.key FROM contacts c JOIN authors a ON a.id = c.contact_id
WHERE c.author_id = ? AND c.following ORDER BY a.key`, id)
}

// FollowedBy returns the keys of feeds currently following the author.
func (v *ViewDatabase) FollowedBy(author string) ([]string, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}
	return v.authorKeysWhere(`
SELECT a.key FROM contacts c JOIN authors a ON a.id = c.author_id
WHERE c.contact_id = ? AND c.following ORDER BY a.key`, id)
}

// Blocks returns the keys of feeds the author currently blocks.
func (v *ViewDatabase) Blocks(author string) ([]string, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}
	return v.authorKeysWhere(`
SELECT a.key FROM contacts c JOIN authors a ON a.id = c.contact_id
WHERE c.author_id = ? AND c.blocking ORDER BY a.key`, id)
}

// BlockedBy returns the keys of feeds currently blocking the author.
func (v *ViewDatabase) BlockedBy(author string) ([]string, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}
	return v.authorKeysWhere(`
SELECT a.key FROM contacts c JOIN authors a ON a.id = c.author_id
WHERE c.contact_id = ? AND c.blocking ORDER BY a.key`, id)
}

// BidirectionalFollows returns feeds where the follow edge exists both ways.
func (v *ViewDatabase) BidirectionalFollows(author string) ([]string, error) {
	id, err := v.authorID(author)
	if err != nil {
		return nil, err
	}
	return v.authorKeysWhere(`
SELECT a.key FROM contacts c
JOIN contacts rc ON rc.author_id = c.contact_id AND rc.contact_id = c.author_id AND rc.following
JOIN authors a ON a.id = c.contact_id
WHERE c.author_id = ? AND c.following ORDER BY a.key`, id)
}

// CurrentAbout returns the profile record in effect for a subject: the
// self-asserted About when one exists, otherwise the newest third-party one.
func (v *ViewDatabase) CurrentAbout(subject string) (*About, error) {
	id, err := v.authorID(subject)
	if err != nil {
		return nil, err
	}

	var a About
	if err := v.db.Where("author_id = ? AND about_id = ?", id, id).Find(&a).Error; err != nil {
		return nil, storageErr("about query", err)
	}
	if a.ID != 0 {
		return &a, nil
	}

	if err := v.db.Where("about_id = ?", id).Order("received_seq DESC").Limit(1).Find(&a).Error; err != nil {
		return nil, storageErr("about query", err)
	}
	if a.ID == 0 {
		return nil, ErrUnknownAuthor
	}
	return &a, nil
}

// VotesOn returns the votes linking to a message key.
func (v *ViewDatabase) VotesOn(key string) ([]Vote, error) {
	var votes []Vote
	if err := v.db.Find(&votes, "link_key = ?", key).Error; err != nil {
		return nil, storageErr("votes query", err)
	}
	return votes, nil
}

// MessagesForHashtag returns all messages carrying a hashtag, newest first.
func (v *ViewDatabase) MessagesForHashtag(name string) ([]Message, error) {
	var msgs []Message
	err := v.db.Raw(`
SELECT m.* FROM messages m
JOIN hashtag_assignments ha ON ha.message_id = m.id
JOIN hashtags h ON h.id = ha.hashtag_id
WHERE h.name = ?
ORDER BY m.received_seq DESC`, name).Scan(&msgs).Error
	if err != nil {
		return nil, storageErr("hashtag query", err)
	}
	return msgs, nil
}

// RegisteredAliases lists the currently registered room aliases.
func (v *ViewDatabase) RegisteredAliases() ([]RoomAlias, error) {
	var aliases []RoomAlias
	if err := v.db.Order("alias ASC").Find(&aliases).Error; err != nil {
		return nil, storageErr("alias query", err)
	}
	return aliases, nil
}

// AliasesForRoom lists registered aliases associated with a known room.
func (v *ViewDatabase) AliasesForRoom(roomKey string) ([]RoomAlias, error) {
	var aliases []RoomAlias
	err := v.db.Raw(`
SELECT ra.* FROM room_aliases ra
JOIN rooms r ON r.id = ra.room_id
WHERE r.key = ? ORDER BY ra.alias ASC`, roomKey).Scan(&aliases).Error
	if err != nil {
		return nil, storageErr("alias query", err)
	}
	return aliases, nil
}

// Stats are raw row counts by category, used for diagnostics.
type Stats struct {
	Authors     int64 `json:"authors"`
	Messages    int64 `json:"messages"`
	Posts       int64 `json:"posts"`
	Contacts    int64 `json:"contacts"`
	Abouts      int64 `json:"abouts"`
	Votes       int64 `json:"votes"`
	Hashtags    int64 `json:"hashtags"`
	Aliases     int64 `json:"aliases"`
	Reports     int64 `json:"reports"`
	Unsupported int64 `json:"unsupported"`
}

func (v *ViewDatabase) Stats() (Stats, error) {
	var s Stats
	for _, c := range []struct {
		dst   *int64
		model any
		q     string
	}{
		{&s.Authors, &Author{}, ""},
		{&s.Messages, &Message{}, ""},
		{&s.Posts, &Post{}, ""},
		{&s.Contacts, &Contact{}, ""},
		{&s.Abouts, &About{}, ""},
		{&s.Votes, &Vote{}, ""},
		{&s.Hashtags, &Hashtag{}, ""},
		{&s.Aliases, &RoomAlias{}, ""},
		{&s.Reports, &Report{}, ""},
		{&s.Unsupported, &Message{}, "unsupported"},
	} {
		q := v.db.Model(c.model)
		if c.q != "" {
			q = q.Where(c.q)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return s, storageErr("stats", err)
		}
	}
	return s, nil
}

// MessageCount counts messages received at or after since.
func (v *ViewDatabase) MessageCount(since time.Time) (int64, error) {
	var n int64
	if err := v.db.Model(&Message{}).Where("received >= ?", since).Count(&n).Error; err != nil {
		return 0, storageErr("message count", err)
	}
	return n, nil
}

// AuthorID resolves a feed key to its row id, for strategy queries.
func (v *ViewDatabase) AuthorID(key string) (uint, error) {
	return v.authorID(key)
}

// IdentityID is the row id of the local identity.
func (v *ViewDatabase) IdentityID() uint { return v.identityID }
