// Package history keeps an audit trail of reconciliation passes in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
)

// PassSummary is one row of the passes table.
type PassSummary struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	DryRun    bool
	Converged bool
	Entries   int
	Modified  []string
	Errors    []string
}

// EntryRecord is the stored outcome of one desired entry in a pass.
type EntryRecord struct {
	Name      string
	Kind      string
	Converged bool
	Modified  bool
	Actions   []string
	Error     string
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS passes (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	converged INTEGER NOT NULL DEFAULT 0,
	entries INTEGER NOT NULL DEFAULT 0,
	modified_json TEXT NOT NULL DEFAULT '[]',
	errors_json TEXT NOT NULL DEFAULT '[]'
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize passes schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS pass_entries (
	pass_id TEXT NOT NULL REFERENCES passes(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	converged INTEGER NOT NULL DEFAULT 0,
	modified INTEGER NOT NULL DEFAULT 0,
	actions_json TEXT NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (pass_id, position)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize pass entries schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Record stores a finished pass and its entries in one transaction.
func (s *Store) Record(ctx context.Context, report *reconcile.PassReport) (err error) {
	if report == nil || report.ID == "" {
		return errors.New("record pass: report has no id")
	}
	modified, err := marshalList(report.Modified)
	if err != nil {
		return fmt.Errorf("marshal modified list: %w", err)
	}
	errs, err := marshalList(report.Errors)
	if err != nil {
		return fmt.Errorf("marshal error list: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO passes (id, started_at, finished_at, dry_run, converged, entries, modified_json, errors_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.Started.UTC().Format(time.RFC3339Nano),
		report.Finished.UTC().Format(time.RFC3339Nano),
		boolInt(report.DryRun),
		boolInt(report.Err == nil && report.Converged()),
		len(report.Entries),
		modified,
		errs,
	); err != nil {
		return fmt.Errorf("insert pass %s: %w", report.ID, err)
	}

	for i, e := range report.Entries {
		var actions string
		if actions, err = marshalList(e.Tags); err != nil {
			return fmt.Errorf("marshal actions of %s: %w", e.Name, err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO pass_entries (pass_id, position, name, kind, converged, modified, actions_json, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, i, e.Name, e.Kind, boolInt(e.Converged), boolInt(e.Modified), actions, e.Error,
		); err != nil {
			return fmt.Errorf("insert entry %s of pass %s: %w", e.Name, report.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit pass %s: %w", report.ID, err)
	}
	return nil
}

// List returns the most recent passes, newest first. A limit of zero or
// less returns every pass.
func (s *Store) List(ctx context.Context, limit int) ([]PassSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, dry_run, converged, entries, modified_json, errors_json
		 FROM passes ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	out := make([]PassSummary, 0)
	for rows.Next() {
		var p PassSummary
		var started, finished, modified, errs string
		var dryRun, converged int
		if err := rows.Scan(&p.ID, &started, &finished, &dryRun, &converged, &p.Entries, &modified, &errs); err != nil {
			return nil, fmt.Errorf("scan pass row: %w", err)
		}
		if p.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse start of pass %s: %w", p.ID, err)
		}
		if p.Finished, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finish of pass %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(modified), &p.Modified); err != nil {
			return nil, fmt.Errorf("unmarshal modified list of pass %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(errs), &p.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal error list of pass %s: %w", p.ID, err)
		}
		p.DryRun = dryRun != 0
		p.Converged = converged != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pass rows: %w", err)
	}
	return out, nil
}

// Entries returns the stored entries of one pass in document order.
func (s *Store) Entries(ctx context.Context, passID string) ([]EntryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, converged, modified, actions_json, error
		 FROM pass_entries WHERE pass_id = ? ORDER BY position`, passID)
	if err != nil {
		return nil, fmt.Errorf("list entries of pass %s: %w", passID, err)
	}
	defer rows.Close()

	out := make([]EntryRecord, 0)
	for rows.Next() {
		var e EntryRecord
		var converged, modified int
		var actions string
		if err := rows.Scan(&e.Name, &e.Kind, &converged, &modified, &actions, &e.Error); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions of %s: %w", e.Name, err)
		}
		e.Converged = converged != 0
		e.Modified = modified != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	return out, nil
}
