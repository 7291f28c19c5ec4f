package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT,
	result TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// SQLite is the file-backed recorder.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLite opens (or creates) the database file at path. The schema is
// created by Init.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time keeps the autoincrement ids in call order.
	db.SetMaxOpenConns(1)
	logger.Info("SQLite opened", zap.String("path", path))
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// Init creates the analyses table if missing.
func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// Save appends an analysis and returns its id.
func (s *SQLite) Save(ctx context.Context, query, result string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (query, result) VALUES (?, ?)`, query, result)
	if err != nil {
		return 0, fmt.Errorf("save analysis: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save analysis: %w", err)
	}
	return id, nil
}

// List returns the newest analyses first.
func (s *SQLite) List(ctx context.Context, limit int) ([]Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(query, ''), COALESCE(result, ''), created_at
		FROM analyses ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Get loads one analysis.
func (s *SQLite) Get(ctx context.Context, id int64) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(query, ''), COALESCE(result, ''), created_at
		FROM analyses WHERE id = ?`, id)
	a, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (*Analysis, error) {
	var (
		a       Analysis
		created any
	)
	if err := sc.Scan(&a.ID, &a.Query, &a.Result, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	a.CreatedAt = parseSQLiteTime(created)
	return &a, nil
}

// parseSQLiteTime accepts the forms the driver hands back for a TIMESTAMP
// column. Unknown forms yield the zero time.
func parseSQLiteTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	}
	return time.Time{}
}

func parseTimeString(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
