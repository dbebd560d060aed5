package pagination

import (
	"github.com/whyrusleeping/tansu/viewdb"
)

// StaticProxy wraps an already-resolved slice, for result sets cheap enough
// to materialize eagerly (previews, small fixtures).
type StaticProxy struct {
	items []viewdb.Message
}

func NewStaticProxy(items []viewdb.Message) *StaticProxy {
	return &StaticProxy{items: items}
}

func (p *StaticProxy) Count() int { return len(p.items) }

func (p *StaticProxy) ItemAt(index int) *viewdb.Message {
	if index < 0 || index >= len(p.items) {
		return nil
	}
	return &p.items[index]
}

func (p *StaticProxy) Prefetch(upTo int) {}

func (p *StaticProxy) OnItemResolved(fn func(index int)) {}

func (p *StaticProxy) Close() {}
