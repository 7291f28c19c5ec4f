package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/finsight/internal/config"
	"github.com/nidhogg/finsight/internal/document"
	"github.com/nidhogg/finsight/internal/embedding"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/vectorstore"
	"go.uber.org/zap"
)

// capabilityRoute is the provider route every chat-backed worker uses.
const capabilityRoute = "crew"

// jobQueue is both ends of the async dispatch backend.
type jobQueue interface {
	orchestrator.Dispatcher
	orchestrator.JobQueue
}

// app is the composed service graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	crew     *orchestrator.Crew
	recorder store.Recorder
	archive  *vectorstore.Archive
	service  *orchestrator.Service
	closers  []func() error
}

type appOptions struct {
	// record opens the recorder; without it results are not persisted.
	record bool
	// index attaches the Qdrant archive when it is enabled in config.
	index bool
}

// newCapability builds the text generator named by cfg.Capability.
func newCapability(cfg *config.Config, logger *zap.Logger) (provider.Capability, error) {
	switch cfg.Capability.Type {
	case "", "keyword":
		return provider.NewKeywordWindow(), nil
	case "chat":
	default:
		return nil, fmt.Errorf("unknown capability type %q", cfg.Capability.Type)
	}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Extra: pc.Extra,
		}
		if pc.Timeout != "" {
			d, err := time.ParseDuration(pc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("provider %s timeout: %w", pc.ID, err)
			}
			provCfg.Timeout = d
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if len(router.ListProviders()) == 0 {
		return nil, fmt.Errorf("capability chat: no usable providers")
	}
	if cfg.Capability.Provider != "" {
		router.Bind(capabilityRoute, cfg.Capability.Provider)
	}
	if len(cfg.Capability.Fallbacks) > 0 {
		router.SetFallbacks(capabilityRoute, cfg.Capability.Fallbacks)
	}
	return provider.NewChatCapability(router, capabilityRoute, cfg.Capability.Model).
		WithSystem(cfg.Capability.System), nil
}

// buildCrew loads the crew definition from config, or the default crew.
func buildCrew(cfg *config.Config, capability provider.Capability, logger *zap.Logger) (*orchestrator.Crew, error) {
	if cfg.Crew.Definition == "" {
		return orchestrator.DefaultCrew(capability, logger), nil
	}
	def, err := orchestrator.LoadDefinition(cfg.Crew.Definition)
	if err != nil {
		return nil, err
	}
	tools := orchestrator.DocumentTools(document.NewExtractor(logger))
	return def.Build(capability, tools, logger)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	capability, err := newCapability(cfg, logger)
	if err != nil {
		return nil, err
	}
	crew, err := buildCrew(cfg, capability, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, crew: crew}

	if opts.record && cfg.Database.Recorder != "" {
		rec, err := store.Open(ctx, cfg.Database.Recorder, logger)
		if err != nil {
			logger.Warn("recorder unavailable, running without persistence", zap.Error(err))
		} else if err := rec.Init(ctx); err != nil {
			rec.Close()
			return nil, fmt.Errorf("init recorder: %w", err)
		} else {
			a.recorder = rec
			a.closers = append(a.closers, rec.Close)
		}
	}

	a.service = orchestrator.NewService(crew, a.recorder, logger)

	if opts.index && cfg.Database.Qdrant.Enabled {
		if err := a.openArchive(ctx); err != nil {
			logger.Warn("qdrant unavailable, running without search", zap.Error(err))
		}
	}
	return a, nil
}

func (a *app) openArchive(ctx context.Context) error {
	embedder, err := embedding.New(embedding.Config{
		Provider:  a.cfg.Embedding.Provider,
		Endpoint:  a.cfg.Embedding.Endpoint,
		Model:     a.cfg.Embedding.Model,
		APIKey:    a.cfg.Embedding.APIKey,
		Dimension: a.cfg.Embedding.Dimension,
	})
	if err != nil {
		return err
	}
	qc := a.cfg.Database.Qdrant
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: qc.Host, Port: qc.Port})
	if err != nil {
		return err
	}
	collection := qc.Collection
	if collection == "" {
		collection = vectorstore.DefaultCollection
	}
	archive := vectorstore.NewArchive(client, embedder, collection, a.logger)
	if err := archive.Init(ctx); err != nil {
		client.Close()
		return err
	}
	a.archive = archive
	a.service.SetArchive(archive)
	a.closers = append(a.closers, client.Close)
	return nil
}

// openQueue returns the configured dispatch backend.
func (a *app) openQueue() (jobQueue, error) {
	d := a.cfg.Dispatch
	switch d.Backend {
	case "", "memory":
		return orchestrator.NewMemoryQueue(256), nil
	case "redis":
		q, err := orchestrator.NewRedisQueue(a.cfg.Database.Redis.URL, orchestrator.RedisQueueOptions{
			Stream:    d.Stream,
			Group:     d.Group,
			ResultTTL: d.TTL(),
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", d.Backend)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}
