package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
)

const (
	// defaultPollInterval はEvent Storeのポーリング間隔。
	defaultPollInterval = 2 * time.Second
	// defaultBatchSize は1回のリクエストで取得するイベントの最大数。
	defaultBatchSize = 100
)

// EventStoreSource はEvent Storeの変更ログをポーリングしてfeed.Sourceとして振る舞う。
// 同じSourceから作られた全ポーラーは1つのレートリミッタを共有する。
type EventStoreSource struct {
	client   *httpclient.Client
	interval time.Duration
	batch    int
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// SourceOption はEventStoreSourceの設定を変更する。
type SourceOption func(*EventStoreSource)

// WithPollInterval はポーリング間隔を変更する。
func WithPollInterval(d time.Duration) SourceOption {
	return func(s *EventStoreSource) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize は1回に取得するイベント数を変更する。
func WithBatchSize(n int) SourceOption {
	return func(s *EventStoreSource) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithRateLimit はEvent Storeへのリクエストレートの上限を設定する。
func WithRateLimit(limit rate.Limit, burst int) SourceOption {
	return func(s *EventStoreSource) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithSourceLogger はロガーを設定する。
func WithSourceLogger(logger *zap.Logger) SourceOption {
	return func(s *EventStoreSource) { s.logger = logger }
}

// NewEventStoreSource は新しいEventStoreSourceを生成する。
func NewEventStoreSource(client *httpclient.Client, opts ...SourceOption) *EventStoreSource {
	s := &EventStoreSource{
		client:   client,
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), len(feed.AllStreams())),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnInsert はfeed.Sourceを実装する。
// 現在のカーソルを取得できた時点でリスナーの登録完了とみなし、以降に追記された挿入のみを配信する。
// fnの中からUnsubscribeを呼び出してはならない。
func (s *EventStoreSource) OnInsert(ctx context.Context, stream feed.Stream, fn func(feed.Record)) (feed.Subscription, error) {
	if _, err := feed.ParseStream(string(stream)); err != nil {
		return nil, err
	}

	var cur event.Cursor
	path := "/api/v1/events/cursor?aggregate_type=" + url.QueryEscape(string(stream))
	if err := s.client.GetJSON(ctx, path, &cur); err != nil {
		return nil, fmt.Errorf("カーソルの取得に失敗 (stream=%s): %w", stream, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	sub := &pollSubscription{cancel: cancel, done: make(chan struct{})}
	go s.run(pollCtx, stream, cur.Seq, fn, sub.done)
	return sub, nil
}

// run はストリームのポーリングループ。ctxがキャンセルされるまで続ける。
func (s *EventStoreSource) run(ctx context.Context, stream feed.Stream, after int64, fn func(feed.Record), done chan<- struct{}) {
	defer close(done)

	s.logger.Debug("ストリームのポーリングを開始",
		zap.String("stream", string(stream)),
		zap.Int64("after", after),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("ストリームのポーリングを停止", zap.String("stream", string(stream)))
			return
		case <-ticker.C:
			next, err := s.poll(ctx, stream, after, fn)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("ポーリングエラー",
					zap.String("stream", string(stream)),
					zap.Error(err),
				)
			}
			after = next
		}
	}
}

// poll はafterより後の挿入イベントを取得してfnに配信し、新しいカーソルを返す。
// 取得件数がバッチサイズに達した場合は続けて取得する。
func (s *EventStoreSource) poll(ctx context.Context, stream feed.Stream, after int64, fn func(feed.Record)) (int64, error) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return after, err
		}

		path := fmt.Sprintf("/api/v1/events/after?after=%d&aggregate_type=%s&limit=%d",
			after, url.QueryEscape(string(stream)), s.batch)
		var events []event.Event
		if err := s.client.GetJSON(ctx, path, &events); err != nil {
			return after, fmt.Errorf("イベントの取得に失敗: %w", err)
		}

		for _, ev := range events {
			if ctx.Err() != nil {
				return after, ctx.Err()
			}
			if ev.Seq <= after {
				continue
			}
			after = ev.Seq
			if ev.EventType != event.TypeRowInserted {
				continue
			}

			r, err := event.DecodeData[feed.Record](&ev)
			if err != nil {
				s.logger.Warn("レコードのデシリアライズに失敗",
					zap.String("stream", string(stream)),
					zap.String("event_id", ev.ID),
					zap.Error(err),
				)
				continue
			}
			fn(*r)
		}

		if len(events) < s.batch {
			return after, nil
		}
	}
}

type pollSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe はポーリングを停止し、ゴルーチンの終了を待つ。
func (s *pollSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
