package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/sanctuary/pkg/feed"
)

var (
	// ErrNotFound はレコードが存在しない場合のエラー。
	ErrNotFound = errors.New("レコードが見つかりません")
	// ErrDuplicate は同じIDのレコードが既に存在する場合のエラー。
	ErrDuplicate = errors.New("同じIDのレコードが既に存在します")
)

type recordRow struct {
	Stream    string `db:"stream"`
	ID        string `db:"id"`
	Data      string `db:"data"`
	CreatedAt string `db:"created_at"`
}

// Store はrecordsテーブルへのアクセスを提供する。
type Store struct {
	db *sqlx.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert はレコードを保存する。rにはidとcreated_atが設定されている必要がある。
func (s *Store) Insert(ctx context.Context, stream feed.Stream, r feed.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("レコードのシリアライズに失敗: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.GetContext(ctx, &exists,
		`SELECT COUNT(*) FROM records WHERE stream = ? AND id = ?`, string(stream), r.String("id")); err != nil {
		return fmt.Errorf("重複確認に失敗: %w", err)
	}
	if exists > 0 {
		return ErrDuplicate
	}

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO records (stream, id, data, created_at) VALUES (:stream, :id, :data, :created_at)`,
		recordRow{
			Stream:    string(stream),
			ID:        r.String("id"),
			Data:      string(data),
			CreatedAt: r.String("created_at"),
		}); err != nil {
		return fmt.Errorf("レコードの保存に失敗: %w", err)
	}
	return tx.Commit()
}

// List はストリームのレコードを新しい順に最大limit件返す。
func (s *Store) List(ctx context.Context, stream feed.Stream, limit int) ([]feed.Record, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT stream, id, data, created_at FROM records
		WHERE stream = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, string(stream), limit); err != nil {
		return nil, fmt.Errorf("レコードの取得に失敗: %w", err)
	}

	out := make([]feed.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Get はレコードを1件返す。
func (s *Store) Get(ctx context.Context, stream feed.Stream, id string) (feed.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT stream, id, data, created_at FROM records WHERE stream = ? AND id = ?`, string(stream), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("レコードの取得に失敗: %w", err)
	}
	return row.decode()
}

func (row recordRow) decode() (feed.Record, error) {
	var r feed.Record
	if err := json.Unmarshal([]byte(row.Data), &r); err != nil {
		return nil, fmt.Errorf("レコードのデシリアライズに失敗 (%s/%s): %w", row.Stream, row.ID, err)
	}
	return r, nil
}
