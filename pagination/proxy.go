// Package pagination exposes a strategy's result set as an index-addressable
// window with lazy batch fetching. The candidate key list is cheap and fixed
// at construction; full rows are resolved in batches as the consumer's
// scroll position advances.
package pagination

import (
	"context"
	"log/slog"
	"sync"

	"github.com/whyrusleeping/tansu/feeds"
	"github.com/whyrusleeping/tansu/viewdb"
)

// Proxy is a lazy, index-addressable view over an ordered feed.
type Proxy interface {
	// Count is fixed at construction time.
	Count() int

	// ItemAt returns the resolved row at index, or nil when it is not yet
	// fetched (resolution is scheduled) or out of bounds. Never blocks.
	ItemAt(index int) *viewdb.Message

	// Prefetch schedules resolution of every index up to and including
	// upTo. Overlapping calls collapse into one in-flight fetch chasing
	// the highest requested index.
	Prefetch(upTo int)

	// OnItemResolved registers a callback fired once per index as it
	// becomes available.
	OnItemResolved(fn func(index int))

	Close()
}

const fetchBatchSize = 32

// FeedProxy resolves rows for a strategy's candidate list. A single worker
// goroutine chases the highest requested index; lower requests issued while
// it runs are dropped, not queued, and the resolved high-water mark never
// regresses.
type FeedProxy struct {
	db *viewdb.ViewDatabase

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	keys     []string
	items    []*viewdb.Message
	resolved int // indices below this are fetched
	target   int // highest requested index
	fetching bool
	onItem   func(int)
}

// NewFeedProxy materializes the strategy's candidate keys for viewer and
// returns a proxy over them. No rows are fetched until the first Prefetch
// or ItemAt.
func NewFeedProxy(ctx context.Context, db *viewdb.ViewDatabase, strat feeds.Strategy, viewer string) (*FeedProxy, error) {
	keys, err := strat.CandidateKeys(ctx, viewer)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	return &FeedProxy{
		db:     db,
		ctx:    pctx,
		cancel: cancel,
		keys:   keys,
		items:  make([]*viewdb.Message, len(keys)),
		target: -1,
	}, nil
}

func (p *FeedProxy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func (p *FeedProxy) ItemAt(index int) *viewdb.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.keys) {
		return nil
	}
	if index >= p.resolved {
		p.requestLocked(index)
		return nil
	}
	return p.items[index]
}

func (p *FeedProxy) Prefetch(upTo int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if upTo >= len(p.keys) {
		upTo = len(p.keys) - 1
	}
	if upTo < 0 || upTo < p.resolved {
		return
	}
	p.requestLocked(upTo)
}

func (p *FeedProxy) requestLocked(upTo int) {
	if upTo > p.target {
		p.target = upTo
	}
	if !p.fetching {
		p.fetching = true
		go p.fetchWorker()
	}
}

func (p *FeedProxy) OnItemResolved(fn func(index int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onItem = fn
}

func (p *FeedProxy) Close() { p.cancel() }

// fetchWorker resolves batches until the high-water mark passes the target.
// The target may move forward while a batch is in flight; the worker just
// keeps going, which is what makes overlapping Prefetch calls collapse.
func (p *FeedProxy) fetchWorker() {
	for {
		p.mu.Lock()
		if p.resolved > p.target || p.ctx.Err() != nil {
			p.fetching = false
			p.mu.Unlock()
			return
		}

		start := p.resolved
		end := start + fetchBatchSize
		if end > p.target+1 {
			end = p.target + 1
		}
		batch := make([]string, end-start)
		copy(batch, p.keys[start:end])
		onItem := p.onItem
		p.mu.Unlock()

		rows, err := p.db.MessagesByKeys(batch)
		if err != nil {
			slog.Error("feed proxy batch fetch failed", "start", start, "error", err)
			p.mu.Lock()
			p.fetching = false
			p.mu.Unlock()
			return
		}

		byKey := make(map[string]*viewdb.Message, len(rows))
		for i := range rows {
			byKey[rows[i].Key] = &rows[i]
		}

		p.mu.Lock()
		for i := start; i < end; i++ {
			// a row deleted since construction stays nil, resolved anyway
			p.items[i] = byKey[p.keys[i]]
		}
		if end > p.resolved {
			p.resolved = end
		}
		p.mu.Unlock()

		if onItem != nil {
			for i := start; i < end; i++ {
				onItem(i)
			}
		}
	}
}
