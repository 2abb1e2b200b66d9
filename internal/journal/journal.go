// Package journal keeps a sqlite history of completed source control
// commands.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chmouel/lazyscc/internal/events"
	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

const schema = `CREATE TABLE IF NOT EXISTS commands (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id   INTEGER NOT NULL,
	type         TEXT    NOT NULL,
	description  TEXT    NOT NULL DEFAULT '',
	files        TEXT    NOT NULL DEFAULT '[]',
	succeeded    INTEGER NOT NULL,
	error_type   TEXT    NOT NULL,
	errors       TEXT    NOT NULL DEFAULT '[]',
	issued_at    INTEGER NOT NULL,
	completed_at INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS commands_completed ON commands(completed_at);`

// Journal is a command history backed by a sqlite file.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open(driverName, "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores one completed command.
func (j *Journal) Record(ctx context.Context, rec models.CommandRecord) error {
	files, err := json.Marshal(nonNil(rec.Files))
	if err != nil {
		return err
	}
	errs, err := json.Marshal(nonNil(rec.Errors))
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO commands (command_id, type, description, files, succeeded, error_type, errors, issued_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type.String(), rec.Description, string(files), rec.Succeeded,
		rec.ErrorType.String(), string(errs),
		rec.IssuedAt.UnixMilli(), rec.CompletedAt.UnixMilli(), rec.Duration().Milliseconds(),
	)
	return err
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.CommandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT command_id, type, description, files, succeeded, error_type, errors, issued_at, completed_at
		 FROM commands ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CommandRecord
	for rows.Next() {
		var (
			rec                  models.CommandRecord
			typeName, errType    string
			files, errs          string
			issuedMs, completeMs int64
		)
		if err := rows.Scan(&rec.ID, &typeName, &rec.Description, &files, &rec.Succeeded,
			&errType, &errs, &issuedMs, &completeMs); err != nil {
			return nil, err
		}
		rec.Type, _ = models.ParseCommandType(typeName)
		rec.ErrorType = models.ParseErrorType(errType)
		if err := json.Unmarshal([]byte(files), &rec.Files); err != nil {
			return nil, fmt.Errorf("journal files: %w", err)
		}
		if err := json.Unmarshal([]byte(errs), &rec.Errors); err != nil {
			return nil, fmt.Errorf("journal errors: %w", err)
		}
		rec.IssuedAt = time.UnixMilli(issuedMs)
		rec.CompletedAt = time.UnixMilli(completeMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Attach records every EventCommandCompleted published on bus. The returned
// function unsubscribes.
func (j *Journal) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.EventCommandCompleted, func(ev events.Event) {
		rec, ok := ev.Data["record"].(models.CommandRecord)
		if !ok {
			return
		}
		if err := j.Record(context.Background(), rec); err != nil {
			log.Warn().Err(err).Uint64("command", rec.ID).Msg("journal write failed")
		}
	})
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
