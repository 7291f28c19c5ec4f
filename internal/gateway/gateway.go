package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway fans inbound messages from every adapter into one handler and
// routes replies back to the right platform.
type Gateway struct {
	adapters map[string]Adapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// Register adds an adapter, replacing any adapter for the same platform.
func (g *Gateway) Register(adapter Adapter) {
	platform := adapter.Platform()
	adapter.OnMessage(func(msg *InboundMessage) {
		g.mu.RLock()
		h := g.handler
		g.mu.RUnlock()
		if h != nil {
			h(msg)
		}
	})

	g.mu.Lock()
	g.adapters[platform] = adapter
	g.mu.Unlock()
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll starts every adapter. A failing adapter does not stop the
// others; all failures are returned together.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, adapter := range g.snapshot() {
		platform := adapter.Platform()
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed", zap.String("platform", platform), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", platform, err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return errors.Join(errs...)
}

// Send delivers a reply to its platform.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Broadcast sends msg to the targeted adapters and returns the platforms
// it reached.
func (g *Gateway) Broadcast(ctx context.Context, msg *BroadcastMessage) ([]string, error) {
	var targets []Adapter
	if len(msg.Platforms) == 0 {
		targets = g.snapshot()
	} else {
		g.mu.RLock()
		for _, p := range msg.Platforms {
			if a, ok := g.adapters[p]; ok {
				targets = append(targets, a)
			}
		}
		g.mu.RUnlock()
	}

	var (
		reached []string
		errs    []error
	)
	for _, adapter := range targets {
		if err := adapter.Broadcast(ctx, msg); err != nil {
			g.logger.Error("broadcast failed", zap.String("platform", adapter.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", adapter.Platform(), err))
			continue
		}
		reached = append(reached, adapter.Platform())
	}
	return reached, errors.Join(errs...)
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	var errs []error
	for _, adapter := range g.snapshot() {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed", zap.String("platform", adapter.Platform()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	adapters := g.snapshot()
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Platform()
	}
	return names
}

// StatusAll reports every adapter's status, sorted by platform.
func (g *Gateway) StatusAll() []AdapterStatus {
	adapters := g.snapshot()
	out := make([]AdapterStatus, len(adapters))
	for i, a := range adapters {
		out[i] = a.Status()
	}
	return out
}

func (g *Gateway) snapshot() []Adapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Adapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform() < out[j].Platform() })
	return out
}
