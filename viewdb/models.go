package viewdb

import (
	"time"
)

// Author is one feed identity. Rows are created lazily the first time a key
// shows up, either as a message author or as the target of a contact edge.
type Author struct {
	ID      uint      `gorm:"primarykey"`
	Created time.Time
	Key     string    `gorm:"uniqueIndex"`
	Banned  bool
}

// Message is the raw log entry after ingestion. One row per log entry,
// regardless of content type; typed tables below hang off MessageID.
type Message struct {
	ID       uint   `gorm:"primarykey"`
	Key      string `gorm:"uniqueIndex"`
	AuthorID uint   `gorm:"index"`
	Sequence int64

	Claimed  time.Time
	Received time.Time

	// ReceivedSeq is the global receive-order index assigned by the
	// replication layer, independent of any author's own sequence.
	ReceivedSeq int64 `gorm:"uniqueIndex"`

	Type        string `gorm:"index"`
	Raw         []byte
	Unsupported bool
}

type Post struct {
	ID        uint `gorm:"primarykey"`
	MessageID uint `gorm:"uniqueIndex"`
	AuthorID  uint `gorm:"index"`

	// RootKey is the key of the thread root, empty for root posts. Kept as
	// a key rather than a row id so replies can land before their root.
	RootKey string `gorm:"index"`
	Text    string
}

// Contact is the current state of a directional edge. Superseded values are
// not kept here; ContactEvent holds the per-message history.
type Contact struct {
	ID        uint `gorm:"primarykey"`
	AuthorID  uint `gorm:"uniqueIndex:idx_contact_pair"`
	ContactID uint `gorm:"uniqueIndex:idx_contact_pair"`
	Following bool
	Blocking  bool

	ReceivedSeq int64
}

// ContactEvent records what a single contact message asserted. Feed
// strategies surface these; the Contact table only answers "what is the edge
// now".
type ContactEvent struct {
	ID        uint `gorm:"primarykey"`
	MessageID uint `gorm:"uniqueIndex"`
	AuthorID  uint `gorm:"index"`
	ContactID uint
	Following bool
	Blocking  bool
}

type About struct {
	ID       uint `gorm:"primarykey"`
	AuthorID uint `gorm:"uniqueIndex:idx_about_pair"`
	AboutID  uint `gorm:"uniqueIndex:idx_about_pair"`

	Name             string
	Description      string
	Image            string
	PublicWebHosting bool

	ReceivedSeq int64
}

type Vote struct {
	ID        uint `gorm:"primarykey"`
	MessageID uint `gorm:"uniqueIndex"`
	AuthorID  uint `gorm:"index"`

	// LinkKey is the key of the message voted on, which may not exist
	// locally yet.
	LinkKey    string `gorm:"index"`
	Value      int
	Expression string
}

type Hashtag struct {
	ID   uint   `gorm:"primarykey"`
	Name string `gorm:"uniqueIndex"`
}

type HashtagAssignment struct {
	ID        uint `gorm:"primarykey"`
	HashtagID uint `gorm:"uniqueIndex:idx_hashtag_msg"`
	MessageID uint `gorm:"uniqueIndex:idx_hashtag_msg"`
}

// Mention is a link carried by a post: a mentioned feed, a blob, or another
// message. AuthorID is set when the link resolves to a feed identity.
type Mention struct {
	ID        uint `gorm:"primarykey"`
	MessageID uint `gorm:"index"`
	AuthorID  uint `gorm:"index"`
	Link      string
}

type Room struct {
	ID      uint   `gorm:"primarykey"`
	Key     string `gorm:"uniqueIndex"`
	Address string
}

// RoomAlias is a currently-registered alias. RoomID stays 0 until a room
// matching RoomKey becomes known. Revocations delete the row.
type RoomAlias struct {
	ID       uint   `gorm:"primarykey"`
	RoomID   uint   `gorm:"index"`
	RoomKey  string `gorm:"index"`
	AuthorID uint   `gorm:"uniqueIndex:idx_alias_pair"`
	Alias    string `gorm:"uniqueIndex:idx_alias_pair"`
	URL      string
}

// BanEntry is one applied ban-list hash (sha256 hex of an author or message
// key).
type BanEntry struct {
	ID   uint   `gorm:"primarykey"`
	Hash string `gorm:"uniqueIndex"`
}

const (
	ReportKindReply   = "reply"
	ReportKindMention = "mention"
	ReportKindFollow  = "follow"
)

// Report is an entry on the notification surface: someone replied to,
// mentioned, or followed the local identity.
type Report struct {
	ID        uint      `gorm:"primarykey"`
	Created   time.Time
	MessageID uint      `gorm:"index"`
	AuthorID  uint
	Kind      string
	Read      bool
}

// SequenceTracker persists named int64 marks, keyed by a short string.
type SequenceTracker struct {
	Key    string `gorm:"uniqueIndex"`
	IntVal int64
}
