package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/pkg/feed"
)

// toastBuffer はSSE購読者ごとのトーストのバッファ数。溢れた分は捨てる。
const toastBuffer = 16

// Session は1人の管理者にマウントされた通知フィード。
type Session struct {
	userID string
	agg    *feed.Aggregator
	handle *feed.Handle

	mu       sync.Mutex
	lastSeen time.Time
	nextID   uint64
	watchers map[uint64]chan feed.Toast
	closed   bool
}

// Aggregator はセッションの集約器を返す。
func (s *Session) Aggregator() *feed.Aggregator {
	return s.agg
}

// Connected はリスナーが登録済みのストリームを返す。
func (s *Session) Connected() []feed.Stream {
	return s.handle.Connected()
}

// Toast はfeed.Notifierを実装する。購読中の全SSE接続に非同期で配る。
func (s *Session) Toast(t feed.Toast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- t:
		default:
		}
	}
}

// watch はトーストを受け取るチャネルを登録する。セッションが閉じられるとチャネルも閉じる。
func (s *Session) watch() (<-chan feed.Toast, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan feed.Toast, toastBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// idleSince はSSE接続が無く、最後のアクセスがcutoffより前ならtrueを返す。
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers) == 0 && s.lastSeen.Before(cutoff)
}

// close は全リスナーを解除し、SSE接続を終了させる。
func (s *Session) close() {
	s.handle.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

// SessionManager はユーザーごとのセッションを管理する。
type SessionManager struct {
	// ctx はリスナーの寿命の親。リクエストのコンテキストとは独立させる。
	ctx      context.Context
	source   feed.Source
	capacity int
	options  []feed.Option
	idle     time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager は新しいSessionManagerを生成する。
// idleが0以下の場合、アイドルセッションは破棄しない。
func NewSessionManager(ctx context.Context, source feed.Source, capacity int, idle time.Duration, logger *zap.Logger, opts ...feed.Option) *SessionManager {
	return &SessionManager{
		ctx:      ctx,
		source:   source,
		capacity: capacity,
		options:  opts,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Mount はユーザーのセッションを返す。存在しない場合は作成して全ストリームを購読する。
// 2つ目の戻り値は新しく作成した場合にtrue。
// 購読の確立はロックの外で行い、同時に作成された場合は後から来た方を破棄する。
func (m *SessionManager) Mount(userID string) (*Session, bool) {
	if sess, ok := m.Get(userID); ok {
		return sess, false
	}

	sess := &Session{
		userID:   userID,
		lastSeen: m.now(),
		watchers: make(map[uint64]chan feed.Toast),
	}
	opts := slices.Concat(m.options, []feed.Option{feed.WithLogger(m.logger.With(zap.String("user_id", userID)))})
	sess.agg = feed.NewAggregator(feed.NewFeed(m.capacity), sess, opts...)
	sess.handle = sess.agg.Subscribe(m.ctx, m.source)

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		sess.close()
		existing.touch(m.now())
		return existing, false
	}
	m.sessions[userID] = sess
	m.mu.Unlock()

	m.logger.Info("通知フィードをマウントしました",
		zap.String("user_id", userID),
		zap.Int("connected", len(sess.Connected())),
	)
	return sess, true
}

// Get はマウント済みのセッションを返す。
func (m *SessionManager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if ok {
		sess.touch(m.now())
	}
	return sess, ok
}

// Unmount はセッションを破棄する。存在しない場合はfalseを返す。
func (m *SessionManager) Unmount(userID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	sess.close()
	m.logger.Info("通知フィードをアンマウントしました", zap.String("user_id", userID))
	return true
}

// Len はマウント中のセッション数を返す。
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap はアイドル時間を超えたセッションを破棄し、破棄した数を返す。
func (m *SessionManager) Reap() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.idleSince(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		sess.close()
		m.logger.Info("アイドル状態の通知フィードを破棄しました", zap.String("user_id", sess.userID))
	}
	return len(idle)
}

// RunReaper はctxがキャンセルされるまで定期的にReapを実行する。
func (m *SessionManager) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Close は全セッションを破棄する。
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
