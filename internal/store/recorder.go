package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when an analysis id does not exist.
var ErrNotFound = errors.New("analysis not found")

// Analysis is one stored crew run.
type Analysis struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder persists crew results. Rows are append-only.
type Recorder interface {
	// Init creates the schema; calling it again is a no-op.
	Init(ctx context.Context) error
	Save(ctx context.Context, query, result string) (int64, error)
	List(ctx context.Context, limit int) ([]Analysis, error)
	Get(ctx context.Context, id int64) (*Analysis, error)
	Close() error
}

// Open picks a recorder from a DSN: postgres:// and postgresql:// URLs use
// Postgres, anything else is a SQLite file path.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (Recorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open recorder: empty dsn")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return New(ctx, dsn, logger)
	}
	return NewSQLite(dsn, logger)
}

// Redact hides the password of a postgres DSN for display.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}
