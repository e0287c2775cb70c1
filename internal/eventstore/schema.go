package eventstore

import (
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// initSchema はSQLiteデータベースにマイグレーションを適用する。
func initSchema(db *sqlx.DB, logger *zap.Logger) error {
	if _, err := migration.Run(db, migrations, "migrations", logger); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
