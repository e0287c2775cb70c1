package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source は論理ストリームごとの挿入イベントを配信するチャネル提供者。
type Source interface {
	// OnInsert はstreamへの新規挿入ごとにfnを呼び出すリスナーを登録する。
	OnInsert(ctx context.Context, stream Stream, fn func(Record)) (Subscription, error)
}

// Subscription は1ストリーム分のリスナー。Unsubscribeは冪等でなければならない。
type Subscription interface {
	Unsubscribe()
}

// Notifier は新着通知のトーストを表示する。呼び出しはブロックしてはならない。
type Notifier interface {
	Toast(Toast)
}

// NotifierFunc は関数をNotifierとして扱うためのアダプタ。
type NotifierFunc func(Toast)

// Toast はNotifierを実装する。
func (f NotifierFunc) Toast(t Toast) { f(t) }

// Aggregator は7つのストリームの挿入イベントを1つのフィードに集約する。
type Aggregator struct {
	feed     *Feed
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	// retryInitial はリスナー登録失敗時の最初の再試行間隔。0の場合は再試行しない。
	retryInitial time.Duration
	// retryMax は再試行間隔の上限。
	retryMax time.Duration
}

// Option はAggregatorの設定を変更する。
type Option func(*Aggregator)

// WithClock は受信時刻の取得に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithRetry はリスナー登録失敗時の指数バックオフを設定する。initialが0なら再試行しない。
func WithRetry(initial, maxDelay time.Duration) Option {
	return func(a *Aggregator) {
		a.retryInitial = initial
		a.retryMax = maxDelay
	}
}

// NewAggregator は新しいAggregatorを生成する。feedがnilの場合はDefaultCapacityのフィードを作る。
func NewAggregator(f *Feed, notifier Notifier, opts ...Option) *Aggregator {
	if f == nil {
		f = NewFeed(DefaultCapacity)
	}
	a := &Aggregator{
		feed:         f,
		notifier:     notifier,
		logger:       zap.NewNop(),
		now:          time.Now,
		retryInitial: time.Second,
		retryMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.retryMax < a.retryInitial {
		a.retryMax = a.retryInitial
	}
	return a
}

// Feed は集約先のフィードを返す。
func (a *Aggregator) Feed() *Feed {
	return a.feed
}

// Subscribe は全ストリームにリスナーを登録する。
// 登録はストリームごとに独立しており、1つが失敗しても他は登録される。
// 失敗したストリームはHandleがCloseされるまでバックグラウンドで再試行する。
func (a *Aggregator) Subscribe(ctx context.Context, src Source) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[Stream]Subscription, len(AllStreams())),
	}

	for _, stream := range AllStreams() {
		fn := a.listener(h, stream)
		sub, err := src.OnInsert(ctx, stream, fn)
		if err != nil {
			a.logger.Warn("リスナーの登録に失敗",
				zap.String("stream", string(stream)),
				zap.Error(err),
			)
			if a.retryInitial > 0 {
				h.wg.Add(1)
				go a.retry(h, src, stream, fn)
			}
			continue
		}
		h.store(stream, sub)
	}

	a.logger.Info("通知フィードの購読を開始",
		zap.Int("connected", len(h.Connected())),
		zap.Int("streams", len(AllStreams())),
	)
	return h
}

// listener はストリームごとのコールバックを返す。Close後に届いたイベントは捨てる。
func (a *Aggregator) listener(h *Handle, stream Stream) func(Record) {
	return func(r Record) {
		if h.ctx.Err() != nil {
			return
		}
		a.onEvent(stream, r)
	}
}

// retry は登録に失敗したストリームを指数バックオフで再登録する。
func (a *Aggregator) retry(h *Handle, src Source, stream Stream, fn func(Record)) {
	defer h.wg.Done()

	delay := a.retryInitial
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-h.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		sub, err := src.OnInsert(h.ctx, stream, fn)
		if err == nil {
			if !h.store(stream, sub) {
				sub.Unsubscribe()
				return
			}
			a.logger.Info("リスナーを再登録しました",
				zap.String("stream", string(stream)),
				zap.Int("attempt", attempt),
			)
			return
		}

		a.logger.Warn("リスナーの再登録に失敗",
			zap.String("stream", string(stream)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		delay *= 2
		if delay > a.retryMax {
			delay = a.retryMax
		}
	}
}

// onEvent は挿入イベントを通知に変換してフィードに追加し、トーストを表示する。
func (a *Aggregator) onEvent(stream Stream, r Record) {
	// 受信時刻はフィードへの追加時にロック内で刻む
	n, ok := Normalize(stream, r, time.Time{})
	if !ok {
		a.logger.Warn("idを持たないレコードを無視しました", zap.String("stream", string(stream)))
		return
	}
	if !a.feed.AddAt(n, a.now) {
		a.logger.Debug("重複した通知を無視しました", zap.String("id", n.ID))
		return
	}
	if a.notifier != nil {
		a.notifier.Toast(Toast{
			NotificationID: n.ID,
			Title:          n.Title,
			Message:        n.Message,
			Severity:       n.Category.Severity(),
		})
	}
}

// Notifications は新しい順の通知一覧を返す。
func (a *Aggregator) Notifications() []Notification {
	return a.feed.Notifications()
}

// UnreadCount は未読数を返す。
func (a *Aggregator) UnreadCount() int {
	return a.feed.UnreadCount()
}

// MarkAsRead は指定IDの通知を既読にする。
func (a *Aggregator) MarkAsRead(id string) {
	a.feed.MarkAsRead(id)
}

// MarkAllAsRead はすべての通知を既読にする。
func (a *Aggregator) MarkAllAsRead() {
	a.feed.MarkAllAsRead()
}

// ClearNotifications はフィードを空にする。
func (a *Aggregator) ClearNotifications() {
	a.feed.Clear()
}

// Handle はSubscribeで登録したリスナー群をまとめて解除するためのハンドル。
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	subs   map[Stream]Subscription
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// store は登録済みのリスナーを保持する。Close済みの場合はfalseを返す。
func (h *Handle) store(stream Stream, sub Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[stream] = sub
	return true
}

// Connected は現在リスナーが登録されているストリームを固定順で返す。
func (h *Handle) Connected() []Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	connected := make([]Stream, 0, len(h.subs))
	for _, s := range AllStreams() {
		if _, ok := h.subs[s]; ok {
			connected = append(connected, s)
		}
	}
	return connected
}

// Close は全リスナーを解除し、再試行中のゴルーチンを停止する。
// 一部のリスナーが登録に失敗していても安全に呼び出せる。2回目以降は何もしない。
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()

		h.mu.Lock()
		h.closed = true
		subs := h.subs
		h.subs = map[Stream]Subscription{}
		h.mu.Unlock()

		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})
}
