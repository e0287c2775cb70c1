// Package database はSQLiteデータベースへの接続を提供する。
package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLiteドライバ
)

// Open はSQLiteデータベースを開く。
// 書き込みを直列化するため接続は1本に制限し、ファイルの場合はWALモードを有効にする。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if !strings.Contains(path, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s の実行に失敗: %w", p, err)
		}
	}
	return db, nil
}
