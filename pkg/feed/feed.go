package feed

import (
	"maps"
	"sync"
	"time"
)

// DefaultCapacity はフィードが保持する通知の上限数。
const DefaultCapacity = 50

// Feed は新しい順に並んだ上限付きの通知リスト。
// リストと未読数は常に同じロックの下で一緒に更新する。
type Feed struct {
	mu            sync.Mutex
	capacity      int
	notifications []Notification
	// ids は現在フィードにある通知IDの集合。再配信の重複排除に使う。
	ids map[string]struct{}
	// unread は未読数。走査で再計算せず、操作ごとに増減させる。
	unread int
}

// NewFeed は空のフィードを生成する。capacityが0以下の場合はDefaultCapacityを使う。
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity:      capacity,
		notifications: make([]Notification, 0, capacity),
		ids:           make(map[string]struct{}, capacity),
	}
}

// Capacity はフィードの上限数を返す。
func (f *Feed) Capacity() int {
	return f.capacity
}

// Add は通知を先頭に追加し、上限を超えた分を末尾から取り除く。
// 同じIDの通知がすでにフィードにある場合は何もせずfalseを返す。
func (f *Feed) Add(n Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[n.ID]; ok {
		return false
	}
	f.add(n)
	return true
}

// AddAt はAddと同じだが、OccurredAtをロックを取ったままnowで刻む。
// 並行して届いた通知でも、OccurredAtはリストの並びと同じく新しい順になる。
func (f *Feed) AddAt(n Notification, now func() time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[n.ID]; ok {
		return false
	}
	n.OccurredAt = now()
	f.add(n)
	return true
}

// add は呼び出し側がロックを保持している前提で通知を先頭に積む。
func (f *Feed) add(n Notification) {
	f.notifications = append(f.notifications, Notification{})
	copy(f.notifications[1:], f.notifications)
	f.notifications[0] = n
	f.ids[n.ID] = struct{}{}
	if !n.IsRead {
		f.unread++
	}

	for len(f.notifications) > f.capacity {
		evicted := f.notifications[len(f.notifications)-1]
		f.notifications = f.notifications[:len(f.notifications)-1]
		delete(f.ids, evicted.ID)
		if !evicted.IsRead {
			f.unread--
		}
	}
}

// MarkAsRead は指定IDの通知を既読にする。存在しない、または既読の場合は何もしない。
func (f *Feed) MarkAsRead(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.notifications {
		if f.notifications[i].ID != id {
			continue
		}
		if !f.notifications[i].IsRead {
			f.notifications[i].IsRead = true
			f.unread--
		}
		return
	}
}

// MarkAllAsRead はすべての通知を既読にする。
func (f *Feed) MarkAllAsRead() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.notifications {
		f.notifications[i].IsRead = true
	}
	f.unread = 0
}

// Clear はフィードを空にする。
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notifications = f.notifications[:0]
	clear(f.ids)
	f.unread = 0
}

// Notifications は新しい順の通知一覧のコピーを返す。
func (f *Feed) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, len(f.notifications))
	for i, n := range f.notifications {
		out[i] = n.clone()
	}
	return out
}

// Unread は未読の通知一覧を新しい順で返す。
func (f *Feed) Unread() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, f.unread)
	for _, n := range f.notifications {
		if !n.IsRead {
			out = append(out, n.clone())
		}
	}
	return out
}

// Get は指定IDの通知を返す。
func (f *Feed) Get(id string) (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range f.notifications {
		if n.ID == id {
			return n.clone(), true
		}
	}
	return Notification{}, false
}

// UnreadCount は未読数を返す。
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Len はフィード内の通知数を返す。
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

// clone は呼び出し側が書き換えてもフィードに影響しない通知のコピーを返す。
func (n Notification) clone() Notification {
	n.SourcePayload = maps.Clone(n.SourcePayload)
	if n.SourceCreatedAt != nil {
		t := *n.SourceCreatedAt
		n.SourceCreatedAt = &t
	}
	return n
}
