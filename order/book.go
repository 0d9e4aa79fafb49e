package order

import (
	"sort"
	"sync"
)

// pendingEntry 串行化同一订单上的成交与撤单。
// op 持有期间可以做存储 I/O；order/visible 受 Book.mu 保护，done 受 op 保护。
// 落库前 visible 为 false，查询看不到该订单。
type pendingEntry struct {
	op      sync.Mutex
	done    bool
	visible bool
	order   Order
}

// Book 记录未终结订单，支持时间点查询。
type Book struct {
	mu      sync.RWMutex
	entries map[string]*pendingEntry
}

func NewBook() *Book {
	return &Book{entries: make(map[string]*pendingEntry)}
}

// reserve 登记新订单；返回的 entry 已持有 op 锁。
func (b *Book) reserve(o Order) (*pendingEntry, bool) {
	e := &pendingEntry{order: o}
	e.op.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[o.ID]; exists {
		e.op.Unlock()
		return nil, false
	}
	b.entries[o.ID] = e
	return e, true
}

// publish 订单落库后对查询可见。调用方须持有 e.op。
func (b *Book) publish(e *pendingEntry) {
	b.mu.Lock()
	e.visible = true
	b.mu.Unlock()
}

func (b *Book) lookup(id string) (*pendingEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	return e, ok
}

// commit 发布订单的新状态；终态时从集合移除。调用方须持有 e.op。
func (b *Book) commit(e *pendingEntry, o Order, final bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.order = o
	e.visible = !final
	if final {
		e.done = true
		delete(b.entries, o.ID)
	}
}

// Get 返回未终结订单。
func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	if !ok || !e.visible {
		return Order{}, false
	}
	return e.order, true
}

// List 返回全部未终结订单（拷贝），按创建时间排序。
func (b *Book) List() []Order {
	b.mu.RLock()
	res := make([]Order, 0, len(b.entries))
	for _, e := range b.entries {
		if e.visible {
			res = append(res, e.order)
		}
	}
	b.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, e := range b.entries {
		if e.visible {
			n++
		}
	}
	return n
}
