package document

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Strategy turns a file into page texts. An error means the strategy
// does not apply to the file and the next one should be tried.
type Strategy interface {
	Name() string
	Pages(path string) ([]string, error)
}

// Extractor loads a file path into normalized document text. It tries
// each strategy in order and commits to the first one that succeeds.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewExtractor creates an extractor over the given strategies. With no
// strategies it uses PDF page extraction followed by plain text.
func NewExtractor(logger *zap.Logger, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = []Strategy{PDFStrategy{}, NewTextStrategy()}
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// Extract returns the document text for path. It never fails: missing
// files and unreadable formats produce placeholder text instead.
func (e *Extractor) Extract(path string) string {
	if _, err := os.Stat(path); err != nil {
		return fmt.Sprintf("(file not found: %s)", path)
	}

	for _, s := range e.strategies {
		pages, err := e.try(s, path)
		if err != nil {
			e.logger.Debug("extraction strategy skipped",
				zap.String("strategy", s.Name()),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		return joinPages(pages)
	}
	return fmt.Sprintf("(reading not available for file: %s)", path)
}

// ReadData matches the tool signature used by crew tasks.
func (e *Extractor) ReadData(_ context.Context, path string) (string, error) {
	return e.Extract(path), nil
}

// try runs a strategy, converting a panic into a strategy failure.
func (e *Extractor) try(s Strategy, path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%s strategy panicked: %v", s.Name(), r)
		}
	}()
	return s.Pages(path)
}

// joinPages drops blank pages and joins the rest with a blank line.
func joinPages(pages []string) string {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n\n")
}
