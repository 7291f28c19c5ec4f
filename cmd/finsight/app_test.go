package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/finsight/internal/config"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCapability(t *testing.T) {
	cfg := config.Default()
	c, err := newCapability(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &provider.KeywordWindow{}, c)

	cfg.Capability = config.CapabilityConfig{Type: "chat", Provider: "oa", Model: "gpt-4o-mini"}
	cfg.Providers = []config.ProviderConfig{{ID: "oa", Type: "openai", APIKey: "k", Timeout: "20s"}}
	c, err = newCapability(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &provider.ChatCapability{}, c)

	cfg.Providers[0].Timeout = "soon"
	_, err = newCapability(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.Providers = []config.ProviderConfig{{ID: "x", Type: "bard"}}
	_, err = newCapability(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "no usable providers")
}

func TestBuildCrewFromDefinition(t *testing.T) {
	cfg := config.Default()
	cfg.Crew.Definition = filepath.Join("..", "..", "configs", "crew.yaml")
	crew, err := buildCrew(cfg, provider.NewKeywordWindow(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, crew.Tasks(), 2)
	assert.Equal(t, "Financial Document Verifier", crew.Tasks()[0].Agent.Role)

	cfg.Crew.Definition = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildCrew(cfg, provider.NewKeywordWindow(), zap.NewNop())
	assert.Error(t, err)
}

func TestNewAppRecordsAnalyses(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.Recorder = filepath.Join(t.TempDir(), "results.db")

	a, err := newApp(ctx, cfg, zap.NewNop(), appOptions{record: true, index: true})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.recorder)
	assert.Nil(t, a.archive, "qdrant is disabled by default")

	res, err := a.service.Analyze(ctx, orchestrator.RunInputs{Query: "cash position"})
	require.NoError(t, err)
	assert.NotZero(t, res.ID)

	rows, err := a.service.History(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	q, err := a.openQueue()
	require.NoError(t, err)
	assert.IsType(t, &orchestrator.MemoryQueue{}, q)
}

func TestJobNotifierBroadcastsResult(t *testing.T) {
	logger = zap.NewNop()
	res := orchestrator.NewAggregated()
	data, err := res.MarshalJSON()
	require.NoError(t, err)

	a := &app{cfg: config.Default(), logger: logger, crew: orchestrator.DefaultCrew(provider.NewKeywordWindow(), logger)}
	a.service = orchestrator.NewService(a.crew, nil, logger)
	gw, _ := newGateway(a, orchestrator.NewMemoryQueue(1))
	b := gateway.NewBroadcaster(gw, logger)

	notify := jobNotifier(b)
	notify(context.Background(), &orchestrator.Job{ID: "j1", Status: orchestrator.JobDone, Result: data})
	notify(context.Background(), &orchestrator.Job{ID: "j2", Status: orchestrator.JobFailed, Error: "boom"})

	hist := b.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "Job j1 done", hist[0].Message.Title)
	assert.Equal(t, "(no tasks ran)", hist[0].Message.Content)
	assert.Equal(t, "Job j2 failed", hist[1].Message.Title)
	assert.Equal(t, "boom", hist[1].Message.Content)
}

func TestRunCommandPrintsText(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "q2.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Net income rose to $1.2B on higher margins."), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"--config", filepath.Join(dir, "absent.json"),
		"--log-level", "error",
		"run", "--file", doc, "--query", "net income", "--format", "text",
	})
	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "> *Financial Document Verifier*"), got)
	assert.Contains(t, got, "Net income rose")
}
