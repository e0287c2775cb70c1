package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/sanctuary/pkg/event"
)

// timeLayout はcreated_atの保存形式。UTCの固定長なので文字列比較で順序が保たれる。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// eventRow はeventsテーブルの1行。
type eventRow struct {
	Seq           int64  `db:"seq"`
	ID            string `db:"id"`
	AggregateID   string `db:"aggregate_id"`
	AggregateType string `db:"aggregate_type"`
	EventType     string `db:"event_type"`
	Data          string `db:"data"`
	Version       int64  `db:"version"`
	CreatedAt     string `db:"created_at"`
}

func newEventRow(ev *event.Event) eventRow {
	return eventRow{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		Data:          string(ev.Data),
		Version:       ev.Version,
		CreatedAt:     ev.CreatedAt.Format(timeLayout),
	}
}

func (r eventRow) toEvent() (event.Event, error) {
	createdAt, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return event.Event{}, fmt.Errorf("created_atの解析に失敗 (seq=%d): %w", r.Seq, err)
	}
	return event.Event{
		Seq:           r.Seq,
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: event.AggregateType(r.AggregateType),
		EventType:     event.Type(r.EventType),
		Data:          json.RawMessage(r.Data),
		Version:       r.Version,
		CreatedAt:     createdAt,
	}, nil
}

func toEvents(rows []eventRow) ([]event.Event, error) {
	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Store はeventsテーブルへのアクセスを提供する。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `SELECT seq, id, aggregate_id, aggregate_type, event_type, data, version, created_at FROM events`

// Append はイベントを追記する。バージョンはAggregateごとに1から自動採番する。
func (s *Store) Append(ctx context.Context, req event.AppendRequest) (event.Event, error) {
	if !json.Valid(req.Data) {
		return event.Event{}, ErrInvalidData
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var version int64
	if err := tx.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, req.AggregateID); err != nil {
		return event.Event{}, fmt.Errorf("バージョンの取得に失敗: %w", err)
	}

	ev, err := event.New(req.AggregateID, event.AggregateType(req.AggregateType), event.Type(req.EventType), version+1, req.Data)
	if err != nil {
		return event.Event{}, err
	}
	ev.CreatedAt = s.now().UTC()
	row := newEventRow(ev)
	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		VALUES (:id, :aggregate_id, :aggregate_type, :event_type, :data, :version, :created_at)`, row)
	if err != nil {
		return event.Event{}, fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	if row.Seq, err = res.LastInsertId(); err != nil {
		return event.Event{}, fmt.Errorf("順序番号の取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return row.toEvent()
}

// All は全イベントを順序番号順に返す。
func (s *Store) All(ctx context.Context) ([]event.Event, error) {
	return s.selectEvents(ctx, selectColumns+` ORDER BY seq`)
}

// ByAggregateID は指定Aggregateのイベントをバージョン順に返す。
func (s *Store) ByAggregateID(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.selectEvents(ctx, selectColumns+` WHERE aggregate_id = ? ORDER BY version`, aggregateID)
}

// LatestVersion は指定Aggregateの最新バージョンを返す。イベントが無い場合は0。
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	if err := s.db.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID); err != nil {
		return 0, fmt.Errorf("バージョンの取得に失敗: %w", err)
	}
	return version, nil
}

// ByType は指定タイプのイベントを順序番号順に返す。
func (s *Store) ByType(ctx context.Context, eventType string) ([]event.Event, error) {
	return s.selectEvents(ctx, selectColumns+` WHERE event_type = ? ORDER BY seq`, eventType)
}

// Since はsince以降に作成されたイベントを順序番号順に返す。
func (s *Store) Since(ctx context.Context, since time.Time) ([]event.Event, error) {
	return s.selectEvents(ctx, selectColumns+` WHERE created_at >= ? ORDER BY seq`, since.UTC().Format(timeLayout))
}

// After は順序番号afterより後のイベントを最大limit件返す。aggregateTypeが空なら全ストリームが対象。
func (s *Store) After(ctx context.Context, after int64, aggregateType string, limit int) ([]event.Event, error) {
	if aggregateType == "" {
		return s.selectEvents(ctx, selectColumns+` WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	}
	return s.selectEvents(ctx,
		selectColumns+` WHERE seq > ? AND aggregate_type = ? ORDER BY seq LIMIT ?`, after, aggregateType, limit)
}

// Cursor はストリームの最新の順序番号を返す。イベントが無い場合は0。
func (s *Store) Cursor(ctx context.Context, aggregateType string) (event.Cursor, error) {
	var (
		seq sql.NullInt64
		err error
	)
	if aggregateType == "" {
		err = s.db.GetContext(ctx, &seq, `SELECT MAX(seq) FROM events`)
	} else {
		err = s.db.GetContext(ctx, &seq, `SELECT MAX(seq) FROM events WHERE aggregate_type = ?`, aggregateType)
	}
	if err != nil {
		return event.Cursor{}, fmt.Errorf("カーソルの取得に失敗: %w", err)
	}
	return event.Cursor{AggregateType: aggregateType, Seq: seq.Int64}, nil
}

func (s *Store) selectEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	return toEvents(rows)
}

// ErrInvalidData はdataが正しいJSONでない場合のエラー。
var ErrInvalidData = errors.New("dataが正しいJSONではありません")
