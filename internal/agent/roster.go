package agent

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Roster holds named workers so definitions can refer to them by id.
type Roster struct {
	workers map[string]*Worker
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRoster creates an empty roster.
func NewRoster(logger *zap.Logger) *Roster {
	return &Roster{
		workers: make(map[string]*Worker),
		logger:  logger,
	}
}

// Register adds a worker under id, replacing any previous one.
func (r *Roster) Register(id string, w *Worker) error {
	if id == "" {
		return fmt.Errorf("register worker %q: empty id", w.Role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.logger == nil {
		w.logger = r.logger
	}
	r.workers[id] = w
	r.logger.Info("registered worker", zap.String("id", id), zap.String("role", w.Role))
	return nil
}

// Get returns a worker by id.
func (r *Roster) Get(id string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// IDs returns the registered ids in sorted order.
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
