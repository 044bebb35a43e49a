package sqlite

import (
	"database/sql"
	"fmt"

	"quiz-room-service/internal/infra/sqlite/migrations"

	migrate "github.com/rubenv/sql-migrate"
)

// applyMigrations runs the embedded up migrations not yet recorded and
// returns how many it applied.
func applyMigrations(db *sql.DB) (int, error) {
	source := migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations.FS,
		Root:       ".",
	}
	n, err := migrate.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}
