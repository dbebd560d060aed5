package viewdb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// schemaVersion is baked into the store filename. Bumping it abandons the
// old file so the view gets rebuilt from the replicated log instead of
// migrated in place.
const schemaVersion = 1

// DefaultRetentionWindow is how far back claimed timestamps may reach before
// a message is dropped at ingestion. The local identity's own messages are
// exempt.
const DefaultRetentionWindow = 6 * 30 * 24 * time.Hour

type Options struct {
	// Identity is the public key of the local feed the store is scoped to.
	Identity string

	// NetworkKey distinguishes stores for the same identity on different
	// networks.
	NetworkKey string

	// RetentionWindow overrides DefaultRetentionWindow when non-zero.
	RetentionWindow time.Duration
}

// ViewDatabase is the materialized view over the replicated log: one sqlite
// file per (network, identity), denormalized tables, and the query surface
// the UI reads from. All writes go through FillMessages or ApplyBanList,
// which serialize on writeLk.
type ViewDatabase struct {
	db   *gorm.DB
	path string

	identity   string
	identityID uint

	retention time.Duration

	// writeLk serializes ingestion and ban application. Derived rows like
	// the current contact edge are last-writer-by-receive-order and
	// interleaved batches would break that.
	writeLk sync.Mutex

	authorCache  *lru.TwoQueueCache[string, uint]
	msgInfoCache *lru.TwoQueueCache[string, cachedMsgInfo]

	banLk     sync.Mutex
	bannedSet map[string]bool
}

type cachedMsgInfo struct {
	ID       uint
	AuthorID uint
}

// Open opens (or creates) the view store for the given identity under dir.
func Open(dir string, opts Options) (*ViewDatabase, error) {
	if opts.Identity == "" {
		return nil, fmt.Errorf("viewdb: options missing identity")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	scope := sha256.Sum256([]byte(opts.NetworkKey + "|" + opts.Identity))
	name := fmt.Sprintf("view-v%d-%s.sqlite", schemaVersion, hex.EncodeToString(scope[:8]))
	path := filepath.Join(dir, name)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, storageErr("open", err)
	}

	return setup(db, path, opts)
}

var memdbCounter atomic.Int64

// OpenInMemory opens a throwaway store, used by tests and previews. The
// database is named so every pooled connection sees the same data.
func OpenInMemory(opts Options) (*ViewDatabase, error) {
	dsn := fmt.Sprintf("file:viewdb_mem_%d?mode=memory&cache=shared", memdbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, storageErr("open", err)
	}
	return setup(db, "", opts)
}

func setup(db *gorm.DB, path string, opts Options) (*ViewDatabase, error) {
	for _, m := range []any{
		Author{}, Message{}, Post{}, Contact{}, ContactEvent{}, About{},
		Vote{}, Hashtag{}, HashtagAssignment{}, Mention{}, Room{},
		RoomAlias{}, BanEntry{}, Report{}, SequenceTracker{},
	} {
		if err := db.AutoMigrate(m); err != nil {
			return nil, storageErr("migrate", err)
		}
	}

	ac, _ := lru.New2Q[string, uint](100_000)
	mc, _ := lru.New2Q[string, cachedMsgInfo](1_000_000)

	retention := opts.RetentionWindow
	if retention == 0 {
		retention = DefaultRetentionWindow
	}

	v := &ViewDatabase{
		db:           db,
		path:         path,
		identity:     opts.Identity,
		retention:    retention,
		authorCache:  ac,
		msgInfoCache: mc,
		bannedSet:    make(map[string]bool),
	}

	me, err := v.getOrCreateAuthor(db, opts.Identity)
	if err != nil {
		return nil, err
	}
	v.identityID = me

	if err := v.loadBanSet(); err != nil {
		return nil, err
	}

	return v, nil
}

// Identity returns the local feed key the store is scoped to.
func (v *ViewDatabase) Identity() string { return v.identity }

func (v *ViewDatabase) Close() error {
	sqldb, err := v.db.DB()
	if err != nil {
		return storageErr("close", err)
	}
	return sqldb.Close()
}

// Drop closes the store and deletes its file. Used on logout and account
// switch; the view is rebuilt from the log on next login.
func (v *ViewDatabase) Drop() error {
	if err := v.Close(); err != nil {
		return err
	}
	if v.path == "" {
		return nil
	}
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return storageErr("drop", err)
	}
	return nil
}

// DB exposes the underlying handle for read-only strategy queries.
func (v *ViewDatabase) DB() *gorm.DB { return v.db }

func (v *ViewDatabase) getOrCreateAuthor(tx *gorm.DB, key string) (uint, error) {
	if id, ok := v.authorCache.Get(key); ok {
		return id, nil
	}

	var a Author
	if err := tx.Find(&a, "key = ?", key).Error; err != nil {
		return 0, storageErr("author lookup", err)
	}

	if a.ID == 0 {
		a = Author{Key: key, Created: time.Now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&a).Error; err != nil {
			return 0, storageErr("author create", err)
		}
		if a.ID == 0 {
			// lost the race, someone else created it
			if err := tx.Find(&a, "key = ?", key).Error; err != nil || a.ID == 0 {
				return 0, storageErr("author create", fmt.Errorf("duplicate author and still missing: %s", key))
			}
		}
	}

	v.authorCache.Add(key, a.ID)
	return a.ID, nil
}

func (v *ViewDatabase) authorID(key string) (uint, error) {
	if id, ok := v.authorCache.Get(key); ok {
		return id, nil
	}
	var a Author
	if err := v.db.Find(&a, "key = ?", key).Error; err != nil {
		return 0, storageErr("author lookup", err)
	}
	if a.ID == 0 {
		return 0, ErrUnknownAuthor
	}
	v.authorCache.Add(key, a.ID)
	return a.ID, nil
}

func (v *ViewDatabase) msgInfoForKey(tx *gorm.DB, key string) (cachedMsgInfo, error) {
	if info, ok := v.msgInfoCache.Get(key); ok {
		return info, nil
	}
	var m Message
	if err := tx.Select("id", "author_id").Find(&m, "key = ?", key).Error; err != nil {
		return cachedMsgInfo{}, storageErr("message lookup", err)
	}
	if m.ID == 0 {
		return cachedMsgInfo{}, ErrUnknownMessage
	}
	info := cachedMsgInfo{ID: m.ID, AuthorID: m.AuthorID}
	v.msgInfoCache.Add(key, info)
	return info, nil
}

func storeSeqMark(db *gorm.DB, key string, seq int64) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"int_val"}),
	}).Create(&SequenceTracker{
		Key:    key,
		IntVal: seq,
	}).Error
}

func loadSeqMark(db *gorm.DB, key string) (int64, error) {
	var info SequenceTracker
	if err := db.Where("key = ?", key).First(&info).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return info.IntVal, nil
}
