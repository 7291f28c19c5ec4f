package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Store is the PostgreSQL recorder.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Init applies the embedded migrations.
func (s *Store) Init(ctx context.Context) error {
	return s.Migrate(ctx)
}

// Migrate executes the embedded .up.sql files in name order. Every
// migration is written to be re-runnable.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Save appends an analysis and returns its id.
func (s *Store) Save(ctx context.Context, query, result string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO analyses (query, result) VALUES ($1, $2) RETURNING id`,
		query, result,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save analysis: %w", err)
	}
	return id, nil
}

// List returns the newest analyses first.
func (s *Store) List(ctx context.Context, limit int) ([]Analysis, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, COALESCE(query, ''), COALESCE(result, ''), created_at
		FROM analyses
		ORDER BY id DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.Query, &a.Result, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get loads one analysis.
func (s *Store) Get(ctx context.Context, id int64) (*Analysis, error) {
	var a Analysis
	err := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(query, ''), COALESCE(result, ''), created_at
		FROM analyses WHERE id = $1`, id,
	).Scan(&a.ID, &a.Query, &a.Result, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return &a, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
