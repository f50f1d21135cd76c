package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/textbook-index/pkg/logger"
)

//go:embed scripts/initdb.sql scripts/vector.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema when the meta version row is missing
// and adds the vector column when the extension can be installed. It reports
// whether vector search is available.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, width int) (bool, error) {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'textbook_index_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("meta table check failed: %w", err)
	}

	hasVersion := false
	if exists {
		if err := db.QueryRowContext(ctxBoot,
			`SELECT EXISTS (SELECT 1 FROM textbook_index_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
			return false, fmt.Errorf("meta version check failed: %w", err)
		}
	}
	if !hasVersion {
		if err := runScript(ctxBoot, db, "scripts/initdb.sql", nil); err != nil {
			return false, err
		}
	}

	return ensureVector(ctxBoot, db, width), nil
}

// ensureVector installs pgvector if possible. Hosts without the extension
// keep working with lexical search only.
func ensureVector(ctx context.Context, db *sql.DB, width int) bool {
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		logger.Warn(ctx, "vector extension unavailable, search will use lexical fallback", "error", err.Error())
		return false
	}
	err := runScript(ctx, db, "scripts/vector.sql", map[string]string{"{{WIDTH}}": strconv.Itoa(width)})
	if err != nil {
		logger.Warn(ctx, "vector column setup failed, search will use lexical fallback", "error", err.Error())
		return false
	}
	return true
}

func runScript(ctx context.Context, db *sql.DB, name string, vars map[string]string) error {
	sqlBytes, err := bootstrapFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	script := string(sqlBytes)
	for k, v := range vars {
		script = strings.ReplaceAll(script, k, v)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}
