package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nao1215/sanctuary/pkg/database"
	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
	"github.com/nao1215/sanctuary/pkg/middleware"
)

const testSecret = "test-secret"

// fakePublisher は送信されたイベントを記録するテスト用Publisher。
type fakePublisher struct {
	mu        sync.Mutex
	published []feed.Record
	streams   []feed.Stream
	err       error
}

func (p *fakePublisher) PublishInsert(_ context.Context, stream feed.Stream, r feed.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.streams = append(p.streams, stream)
	p.published = append(p.published, r)
	return nil
}

func setupTestServer(t *testing.T, publisher Publisher) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zaptest.NewLogger(t)
	require.NoError(t, initSchema(db, logger))

	s := newServer(db, publisher, testSecret, ":0", logger)
	s.now = func() time.Time { return time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC) }
	return s
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, "staff-1", "staff@example.org", middleware.RoleAdmin)
	require.NoError(t, err)
	return token
}

func memberToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, "member-1", "member@example.org", middleware.RoleMember)
	require.NoError(t, err)
	return token
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) feed.Record {
	t.Helper()
	var r feed.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

// TestHandleCreate はレコード登録を検証する。
func TestHandleCreate(t *testing.T) {
	t.Parallel()

	t.Run("公開ストリームには未認証で登録でき、イベントが送信される", func(t *testing.T) {
		t.Parallel()

		pub := &fakePublisher{}
		s := setupTestServer(t, pub)

		w := doRequest(s, http.MethodPost, "/api/v1/records/donations", "",
			`{"id":"d1","amount":50,"donor_first_name":"Amina","fund":"Missions"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		r := decodeRecord(t, w)
		assert.Equal(t, "d1", r.String("id"))
		assert.Equal(t, "2026-04-05T10:00:00Z", r.String("created_at"))

		require.Len(t, pub.published, 1)
		assert.Equal(t, feed.StreamDonations, pub.streams[0])
		assert.Equal(t, "Amina", pub.published[0].String("donor_first_name"))
	})

	t.Run("idが無い場合は採番される", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, &fakePublisher{})
		w := doRequest(s, http.MethodPost, "/api/v1/records/prayer_requests", "",
			`{"first_name":"John","subject":"Healing"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, decodeRecord(t, w).String("id"))
	})

	t.Run("管理ストリームへの登録には管理者ロールが必要", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, &fakePublisher{})
		body := `{"title":"Grace","speaker":"Pastor Lee"}`

		assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodPost, "/api/v1/records/sermons", "", body).Code)
		assert.Equal(t, http.StatusForbidden, doRequest(s, http.MethodPost, "/api/v1/records/sermons", memberToken(t), body).Code)
		assert.Equal(t, http.StatusCreated, doRequest(s, http.MethodPost, "/api/v1/records/sermons", adminToken(t), body).Code)
	})

	t.Run("未知のストリームは404", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, &fakePublisher{})
		w := doRequest(s, http.MethodPost, "/api/v1/records/payments", adminToken(t), `{"amount":1}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("必須項目の検証", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			stream string
			body   string
		}{
			{"金額なしの献金", "donations", `{"donor_first_name":"Amina"}`},
			{"0円の献金", "donations", `{"amount":0}`},
			{"数値でない金額", "donations", `{"amount":"lots"}`},
			{"NaNの金額", "donations", `{"amount":"NaN"}`},
			{"Infinityの金額", "donations", `{"amount":"Infinity"}`},
			{"infの金額", "donations", `{"amount":"inf"}`},
			{"件名なしの祈りの課題", "prayer_requests", `{"first_name":"John"}`},
			{"本文なしの問い合わせ", "contact_submissions", `{"email":"ruth@example.org"}`},
			{"JSONでない", "volunteer_submissions", `not-json`},
			{"オブジェクトでない", "volunteer_submissions", `["a"]`},
			{"null", "volunteer_submissions", `null`},
		}
		pub := &fakePublisher{}
		s := setupTestServer(t, pub)
		for _, tt := range tests {
			w := doRequest(s, http.MethodPost, "/api/v1/records/"+tt.stream, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, tt.name)
		}
		assert.Empty(t, pub.published)
	})

	t.Run("同じIDの登録は409", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, &fakePublisher{})
		body := `{"id":"c1","email":"ruth@example.org","message":"Hello"}`
		require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPost, "/api/v1/records/contact_submissions", "", body).Code)
		assert.Equal(t, http.StatusConflict, doRequest(s, http.MethodPost, "/api/v1/records/contact_submissions", "", body).Code)
	})

	t.Run("イベント送信に失敗しても登録は成功する", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, &fakePublisher{err: errors.New("eventstore down")})
		w := doRequest(s, http.MethodPost, "/api/v1/records/volunteer_submissions", "",
			`{"id":"v1","first_name":"Lydia","email":"lydia@example.org"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		got := doRequest(s, http.MethodGet, "/api/v1/records/volunteer_submissions/v1", adminToken(t), "")
		assert.Equal(t, http.StatusOK, got.Code)
	})
}

// TestHandleListAndGet は管理者向けの参照APIを検証する。
func TestHandleListAndGet(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t, &fakePublisher{})
	clock := time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	for _, id := range []string{"e1", "e2", "e3"} {
		w := doRequest(s, http.MethodPost, "/api/v1/records/events", adminToken(t),
			`{"id":"`+id+`","title":"Picnic","event_date":"2026-05-01"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	t.Run("新しい順に一覧を取得できる", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/v1/records/events?limit=2", adminToken(t), "")
		require.Equal(t, http.StatusOK, w.Code)

		var list []feed.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 2)
		assert.Equal(t, "e3", list[0].String("id"))
		assert.Equal(t, "e2", list[1].String("id"))
	})

	t.Run("不正なlimitは400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/v1/records/events?limit=0", adminToken(t), "").Code)
	})

	t.Run("1件取得と404", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/v1/records/events/e1", adminToken(t), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Picnic", decodeRecord(t, w).String("title"))

		assert.Equal(t, http.StatusNotFound, doRequest(s, http.MethodGet, "/api/v1/records/events/missing", adminToken(t), "").Code)
	})

	t.Run("公開ストリームでも参照は管理者のみ", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodGet, "/api/v1/records/donations", "", "").Code)
		assert.Equal(t, http.StatusForbidden, doRequest(s, http.MethodGet, "/api/v1/records/donations", memberToken(t), "").Code)
	})
}

// TestEventStorePublisher はEvent Storeへの追記リクエストの内容を検証する。
func TestEventStorePublisher(t *testing.T) {
	t.Parallel()

	t.Run("RowInsertedイベントとして追記される", func(t *testing.T) {
		t.Parallel()

		var got event.AppendRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/events", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		p := NewEventStorePublisher(httpclient.New(ts.URL))
		err := p.PublishInsert(context.Background(), feed.StreamSermons, feed.Record{"id": "s1", "title": "Grace"})
		require.NoError(t, err)

		assert.Equal(t, "s1", got.AggregateID)
		assert.Equal(t, "sermons", got.AggregateType)
		assert.Equal(t, "RowInserted", got.EventType)
		assert.JSONEq(t, `{"id":"s1","title":"Grace"}`, string(got.Data))
	})

	t.Run("Event Storeがエラーを返すとエラーになる", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		err := NewEventStorePublisher(httpclient.New(ts.URL)).
			PublishInsert(context.Background(), feed.StreamSermons, feed.Record{"id": "s1"})
		assert.Error(t, err)
	})
}
