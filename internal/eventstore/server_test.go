package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nao1215/sanctuary/pkg/database"
	"github.com/nao1215/sanctuary/pkg/event"
)

// setupTestServer はテスト用のサーバーをインメモリSQLiteで構築するヘルパー関数。
// 各テストケースで独立したデータベースを使用するため、テスト間の干渉が発生しない。
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db, err := database.Open(":memory:")
	require.NoError(t, err, "インメモリSQLiteの接続に失敗")
	t.Cleanup(func() { _ = db.Close() })

	logger := zaptest.NewLogger(t)
	require.NoError(t, initSchema(db, logger), "スキーマ初期化に失敗")

	return newServer(db, ":0", logger)
}

// appendTestEvent はテスト用にイベントをPOSTするヘルパー関数。
func appendTestEvent(t *testing.T, s *Server, aggregateID, aggregateType, eventType string, data map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	dataJSON, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(event.AppendRequest{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          dataJSON,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// insertRow はレコード挿入イベントを追記し、成功を確認する。
func insertRow(t *testing.T, s *Server, stream, id string) event.Event {
	t.Helper()

	w := appendTestEvent(t, s, id, stream, string(event.TypeRowInserted), map[string]any{"id": id})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var ev event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
	return ev
}

// getEvents はGETリクエストを送り、イベント一覧をデコードする。
func getEvents(t *testing.T, s *Server, path string) []event.Event {
	t.Helper()

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var events []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	return events
}

func aggregateIDs(events []event.Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.AggregateID
	}
	return ids
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"eventstore"}`, w.Body.String())
}

// TestHandleAppendEvent はイベント追記ハンドラの各パターンを検証する。
func TestHandleAppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("正常にイベントを追記できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := appendTestEvent(t, s, "d1", "donations", "RowInserted", map[string]any{
			"id":     "d1",
			"amount": 50,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var ev event.Event
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
		assert.Equal(t, int64(1), ev.Seq)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "d1", ev.AggregateID)
		assert.Equal(t, event.AggregateType("donations"), ev.AggregateType)
		assert.Equal(t, event.TypeRowInserted, ev.EventType)
		assert.Equal(t, int64(1), ev.Version)
		assert.JSONEq(t, `{"id":"d1","amount":50}`, string(ev.Data))
		assert.WithinDuration(t, time.Now(), ev.CreatedAt, time.Minute)
	})

	t.Run("バージョンはAggregateごとに自動インクリメントされる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for want := int64(1); want <= 3; want++ {
			w := appendTestEvent(t, s, "user-1", "users", "UserRoleChanged", map[string]any{"role": "admin"})
			require.Equal(t, http.StatusCreated, w.Code)
			var ev event.Event
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
			assert.Equal(t, want, ev.Version)
		}

		other := insertRow(t, s, "sermons", "s1")
		assert.Equal(t, int64(1), other.Version, "異なるAggregateIDのバージョンは独立している")
		assert.Equal(t, int64(4), other.Seq, "順序番号は全体で単調増加する")
	})

	t.Run("必須フィールドが欠けている場合は400エラーを返す", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			body string
		}{
			{"aggregate_idなし", `{"aggregate_type":"donations","event_type":"RowInserted","data":{}}`},
			{"aggregate_typeなし", `{"aggregate_id":"d1","event_type":"RowInserted","data":{}}`},
			{"event_typeなし", `{"aggregate_id":"d1","aggregate_type":"donations","data":{}}`},
			{"dataなし", `{"aggregate_id":"d1","aggregate_type":"donations","event_type":"RowInserted"}`},
			{"不正なJSON", `{invalid`},
		}
		s := setupTestServer(t)
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, tt.name)
		}
		assert.Empty(t, getEvents(t, s, "/api/v1/events"))
	})
}

// TestHandleGetEvents は参照系エンドポイントを検証する。
func TestHandleGetEvents(t *testing.T) {
	t.Parallel()

	t.Run("全イベントを順序番号順に取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		assert.Empty(t, getEvents(t, s, "/api/v1/events"), "イベントが存在しない場合は空配列")

		insertRow(t, s, "donations", "d1")
		insertRow(t, s, "prayer_requests", "p1")
		insertRow(t, s, "donations", "d2")
		assert.Equal(t, []string{"d1", "p1", "d2"}, aggregateIDs(getEvents(t, s, "/api/v1/events")))
	})

	t.Run("AggregateIDに紐づくイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		appendTestEvent(t, s, "user-1", "users", "UserInvited", map[string]any{"actor_id": "a"})
		appendTestEvent(t, s, "user-2", "users", "UserInvited", map[string]any{"actor_id": "a"})
		appendTestEvent(t, s, "user-1", "users", "UserRemoved", map[string]any{"actor_id": "a"})

		events := getEvents(t, s, "/api/v1/events/aggregate/user-1")
		require.Len(t, events, 2)
		assert.Equal(t, event.TypeUserInvited, events[0].EventType)
		assert.Equal(t, event.TypeUserRemoved, events[1].EventType)

		assert.Empty(t, getEvents(t, s, "/api/v1/events/aggregate/missing"))
	})

	t.Run("最新バージョンを取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		appendTestEvent(t, s, "user-1", "users", "UserInvited", map[string]any{})
		appendTestEvent(t, s, "user-1", "users", "UserRoleChanged", map[string]any{})

		for path, want := range map[string]string{
			"/api/v1/events/aggregate/user-1/version":  `{"aggregate_id":"user-1","version":2}`,
			"/api/v1/events/aggregate/missing/version": `{"aggregate_id":"missing","version":0}`,
		} {
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, want, w.Body.String())
		}
	})

	t.Run("イベントタイプに一致するイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		insertRow(t, s, "events", "e1")
		appendTestEvent(t, s, "user-1", "users", "UserInvited", map[string]any{})
		insertRow(t, s, "sermons", "s1")

		assert.Equal(t, []string{"e1", "s1"}, aggregateIDs(getEvents(t, s, "/api/v1/events/type/RowInserted")))
		assert.Empty(t, getEvents(t, s, "/api/v1/events/type/Unknown"))
	})

	t.Run("指定日時以降のイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		base := time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC)
		clock := base
		s.store.now = func() time.Time { return clock }
		insertRow(t, s, "donations", "d1")
		clock = base.Add(time.Hour)
		insertRow(t, s, "donations", "d2")

		since := base.Add(30 * time.Minute).Format(time.RFC3339)
		assert.Equal(t, []string{"d2"}, aggregateIDs(getEvents(t, s, "/api/v1/events/since?since="+since)))

		future := base.Add(24 * time.Hour).Format(time.RFC3339)
		assert.Empty(t, getEvents(t, s, "/api/v1/events/since?since="+future))
	})

	t.Run("sinceパラメータが欠けているか不正な場合は400エラーを返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for _, path := range []string{
			"/api/v1/events/since",
			"/api/v1/events/since?since=2026-04-05",
			"/api/v1/events/since?since=yesterday",
		} {
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
		}
	})
}

// TestHandleGetEventsAfter は変更データの購読に使うエンドポイントを検証する。
func TestHandleGetEventsAfter(t *testing.T) {
	t.Parallel()

	t.Run("順序番号より後のイベントだけをストリームで絞り込んで返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		insertRow(t, s, "donations", "d1")
		insertRow(t, s, "sermons", "s1")
		insertRow(t, s, "donations", "d2")
		insertRow(t, s, "donations", "d3")

		assert.Equal(t, []string{"d2", "d3"},
			aggregateIDs(getEvents(t, s, "/api/v1/events/after?after=1&aggregate_type=donations")))
		assert.Equal(t, []string{"s1", "d2", "d3"},
			aggregateIDs(getEvents(t, s, "/api/v1/events/after?after=1")))
		assert.Empty(t, getEvents(t, s, "/api/v1/events/after?after=4"))
	})

	t.Run("limitで件数を制限できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for i := 1; i <= 5; i++ {
			insertRow(t, s, "events", fmt.Sprintf("e%d", i))
		}
		assert.Equal(t, []string{"e1", "e2"}, aggregateIDs(getEvents(t, s, "/api/v1/events/after?limit=2")))
		assert.Len(t, getEvents(t, s, "/api/v1/events/after?limit=100000"), 5)
	})

	t.Run("不正なパラメータは400エラーを返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for _, path := range []string{
			"/api/v1/events/after?after=abc",
			"/api/v1/events/after?after=-1",
			"/api/v1/events/after?limit=0",
			"/api/v1/events/after?limit=x",
		} {
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
		}
	})
}

// TestHandleGetCursor はカーソル取得を検証する。
func TestHandleGetCursor(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	cursor := func(query string) event.Cursor {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/cursor"+query, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var cur event.Cursor
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cur))
		return cur
	}

	assert.Equal(t, event.Cursor{AggregateType: "donations", Seq: 0}, cursor("?aggregate_type=donations"))

	insertRow(t, s, "donations", "d1")
	insertRow(t, s, "sermons", "s1")

	assert.Equal(t, event.Cursor{AggregateType: "donations", Seq: 1}, cursor("?aggregate_type=donations"))
	assert.Equal(t, event.Cursor{AggregateType: "sermons", Seq: 2}, cursor("?aggregate_type=sermons"))
	assert.Equal(t, event.Cursor{Seq: 2}, cursor(""))
}

// TestRouteNotFound は未定義のルートで404が返ることを検証する。
func TestRouteNotFound(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestInitSchema はマイグレーションの再適用が安全であることを検証する。
func TestInitSchema(t *testing.T) {
	t.Parallel()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	logger := zaptest.NewLogger(t)
	require.NoError(t, initSchema(db, logger))
	require.NoError(t, initSchema(db, logger), "二重初期化してもエラーにならない")

	ev, err := NewStore(db).Append(context.Background(), event.AppendRequest{
		AggregateID:   "d1",
		AggregateType: "donations",
		EventType:     "RowInserted",
		Data:          json.RawMessage(`{"id":"d1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)
}

// TestStoreAppendInvalidData は不正なdataが拒否されることを検証する。
func TestStoreAppendInvalidData(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	_, err := s.store.Append(context.Background(), event.AppendRequest{
		AggregateID:   "d1",
		AggregateType: "donations",
		EventType:     "RowInserted",
		Data:          json.RawMessage(`{broken`),
	})
	assert.ErrorIs(t, err, ErrInvalidData)
}

// TestStoreAppendUsesStoreClock は追記イベントの日時がストアの時計で刻まれ、
// データが型付きで復元できることを検証する。
func TestStoreAppendUsesStoreClock(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	clock := time.Date(2026, 4, 5, 9, 30, 0, 0, time.UTC)
	s.store.now = func() time.Time { return clock }

	ev, err := s.store.Append(context.Background(), event.AppendRequest{
		AggregateID:   "d1",
		AggregateType: "donations",
		EventType:     "RowInserted",
		Data:          json.RawMessage(`{"id": "d1", "amount": 50}`),
	})
	require.NoError(t, err)
	assert.Len(t, ev.ID, 36)
	assert.True(t, clock.Equal(ev.CreatedAt))

	data, err := event.DecodeData[map[string]any](&ev)
	require.NoError(t, err)
	assert.Equal(t, "d1", (*data)["id"])
	assert.InDelta(t, 50.0, (*data)["amount"], 0)
}
