// Package embedding turns analysis text into vectors for the archive.
package embedding

import (
	"context"
	"fmt"
	"sync"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named by cfg.Provider. An empty name selects the
// offline hash provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashProvider(cfg.Dimension), nil
	case "api":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedding: api provider needs an endpoint")
		}
		return NewAPIProvider(cfg), nil
	case "local":
		if cfg.Endpoint == "" {
			cfg.Endpoint = "http://localhost:11434"
		}
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// learnedDimension remembers the vector size of the first non-empty
// response and falls back to the configured size before that.
type learnedDimension struct {
	configured int
	once       sync.Once
	learned    int
}

func (d *learnedDimension) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.once.Do(func() { d.learned = len(vectors[0]) })
	}
}

func (d *learnedDimension) get() int {
	if d.learned > 0 {
		return d.learned
	}
	return d.configured
}
