package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const historyLimit = 100

// BroadcastRecord is one sent broadcast.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
}

// Broadcaster announces events on every connected platform and keeps a
// bounded history.
type Broadcaster struct {
	gateway *Gateway
	mu      sync.Mutex
	history []BroadcastRecord
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by gw.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{gateway: gw, logger: logger}
}

// Send broadcasts msg. The record is kept even when some platforms failed,
// listing only the ones reached.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("broadcast type is required")
	}
	b.logger.Info("sending broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title))

	reached, err := b.gateway.Broadcast(ctx, msg)

	b.mu.Lock()
	b.history = append(b.history, BroadcastRecord{Message: msg, SentAt: time.Now(), Targets: reached})
	if len(b.history) > historyLimit {
		b.history = append([]BroadcastRecord(nil), b.history[len(b.history)-historyLimit:]...)
	}
	b.mu.Unlock()
	return err
}

// History returns up to limit recent records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]BroadcastRecord, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
