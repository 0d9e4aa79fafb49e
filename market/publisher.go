package market

import "sync"

// Publisher 一个轻量事件分发器；订阅者处理慢时丢弃，不阻塞行情线程。
type Publisher struct {
	mu      sync.RWMutex
	snapSub []chan Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{snapSub: make([]chan Snapshot, 0)}
}

// SubscribeSnapshots returns a channel with the given buffer (minimum 1).
func (p *Publisher) SubscribeSnapshots(buffer int) <-chan Snapshot {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	p.mu.Lock()
	p.snapSub = append(p.snapSub, ch)
	p.mu.Unlock()
	return ch
}

// PublishSnapshot returns how many subscribers dropped the snapshot.
func (p *Publisher) PublishSnapshot(s Snapshot) (dropped int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.snapSub {
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	return dropped
}

// Close closes every subscriber channel; later publishes reach nobody.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.snapSub {
		close(ch)
	}
	p.snapSub = nil
}
