package realtime

import (
	"context"
	"sync"

	"github.com/nao1215/sanctuary/pkg/feed"
)

// Hub はストリームごとのリスナーに挿入イベントを同期的に配信するプロセス内バス。
type Hub struct {
	mu        sync.RWMutex
	listeners map[feed.Stream]map[uint64]func(feed.Record)
	nextID    uint64
}

// NewHub は空のHubを生成する。
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[feed.Stream]map[uint64]func(feed.Record)),
	}
}

// OnInsert はfeed.Sourceを実装する。
func (h *Hub) OnInsert(_ context.Context, stream feed.Stream, fn func(feed.Record)) (feed.Subscription, error) {
	if _, err := feed.ParseStream(string(stream)); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.listeners[stream] == nil {
		h.listeners[stream] = make(map[uint64]func(feed.Record))
	}
	h.listeners[stream][id] = fn

	return &hubSubscription{hub: h, stream: stream, id: id}, nil
}

// Publish はstreamの全リスナーにレコードを配信し、配信先の数を返す。
// 同じストリームへのPublishは呼び出し順に配信される。
func (h *Hub) Publish(stream feed.Stream, r feed.Record) int {
	h.mu.RLock()
	fns := make([]func(feed.Record), 0, len(h.listeners[stream]))
	for _, fn := range h.listeners[stream] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(r)
	}
	return len(fns)
}

// Listeners はstreamに登録されているリスナー数を返す。
func (h *Hub) Listeners(stream feed.Stream) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[stream])
}

type hubSubscription struct {
	hub    *Hub
	stream feed.Stream
	id     uint64
	once   sync.Once
}

// Unsubscribe はリスナーを解除する。
func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		delete(s.hub.listeners[s.stream], s.id)
		if len(s.hub.listeners[s.stream]) == 0 {
			delete(s.hub.listeners, s.stream)
		}
	})
}
