package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/store"
	"go.uber.org/zap"
)

// Indexer makes stored analyses searchable.
type Indexer interface {
	Index(ctx context.Context, id int64, query, result string) error
}

// Analysis is a finished crew run.
type Analysis struct {
	ID        int64         `json:"id,omitempty"`
	Query     string        `json:"query"`
	FilePath  string        `json:"file_path,omitempty"`
	Result    *Aggregated   `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Service runs the crew and records every result.
type Service struct {
	crew     *Crew
	recorder store.Recorder
	archive  Indexer
	logger   *zap.Logger
}

// NewService creates a service. recorder may be nil, in which case
// results are not persisted.
func NewService(crew *Crew, recorder store.Recorder, logger *zap.Logger) *Service {
	return &Service{crew: crew, recorder: recorder, logger: logger}
}

// SetArchive attaches a search index for saved analyses.
func (s *Service) SetArchive(archive Indexer) {
	s.archive = archive
}

// Crew returns the crew the service runs.
func (s *Service) Crew() *Crew { return s.crew }

// Analyze runs the crew over in. Storage and indexing failures are logged;
// the analysis is still returned.
func (s *Service) Analyze(ctx context.Context, in RunInputs) (*Analysis, error) {
	if strings.TrimSpace(in.Query) == "" {
		in.Query = DefaultQuery
	}
	if in.RemoveFile && in.FilePath != "" {
		defer func() {
			if err := os.Remove(in.FilePath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("remove upload", zap.String("path", in.FilePath), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result := s.crew.Kickoff(ctx, in)
	a := &Analysis{
		Query:     in.Query,
		FilePath:  in.FilePath,
		Result:    result,
		CreatedAt: start,
		Duration:  time.Since(start),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return a, fmt.Errorf("encode result: %w", err)
	}

	if s.recorder != nil {
		id, err := s.recorder.Save(ctx, in.Query, string(data))
		if err != nil {
			s.logger.Error("save analysis", zap.Error(err))
		} else {
			a.ID = id
		}
	}
	if s.archive != nil && a.ID != 0 {
		if err := s.archive.Index(ctx, a.ID, in.Query, string(data)); err != nil {
			s.logger.Warn("index analysis", zap.Int64("id", a.ID), zap.Error(err))
		}
	}

	s.logger.Info("analysis complete",
		zap.Int64("id", a.ID),
		zap.Int("tasks", result.Len()),
		zap.Int("failures", result.Failures()),
		zap.Duration("duration", a.Duration))
	return a, nil
}

// History lists stored analyses, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.Analysis, error) {
	if s.recorder == nil {
		return []store.Analysis{}, nil
	}
	return s.recorder.List(ctx, limit)
}

// Get loads one stored analysis.
func (s *Service) Get(ctx context.Context, id int64) (*store.Analysis, error) {
	if s.recorder == nil {
		return nil, store.ErrNotFound
	}
	return s.recorder.Get(ctx, id)
}
