package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies every pending goose migration found in dir of fsys.
//
// dialect is a goose dialect name: "sqlite3", "postgres" or "mysql".
// Each SQL backend embeds its own migrations directory and calls this once
// from its constructor.
func Migrate(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrate: setting dialect %q: %w", dialect, err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate: applying migrations: %w", err)
	}

	return nil
}
