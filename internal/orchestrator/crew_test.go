package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoCapability() provider.Capability {
	return provider.CapabilityFunc(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func staticTool(text string, calls *int32) Tool {
	return Tool{Name: "static", Call: func(context.Context, string) (string, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return text, nil
	}}
}

func TestKickoffKeysFollowTaskOrder(t *testing.T) {
	log := zap.NewNop()
	tasks := []*Task{
		{Description: "verify", Agent: agent.NewWorker("Verifier", "check", echoCapability(), log)},
		{Description: "analyze", Agent: agent.NewWorker("Analyst", "analyze", echoCapability(), log)},
	}
	result := NewCrew(tasks, ProcessSequential, log).Kickoff(context.Background(), RunInputs{Query: "q"})

	assert.Equal(t, []string{"task_0_Verifier", "task_1_Analyst"}, result.Keys())

	data, err := result.MarshalJSON()
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(data), "task_0_Verifier"), strings.Index(string(data), "task_1_Analyst"))
}

func TestKickoffTextFileWithKeywordWindow(t *testing.T) {
	path := writeFile(t, "report.txt",
		"Quarterly report\nRevenue grew 12% to $4.1M.\nNet income reached $800K.\n")
	crew := DefaultCrew(provider.NewKeywordWindow(), zap.NewNop())

	result := crew.Kickoff(context.Background(), RunInputs{Query: "Summarize", FilePath: path})
	require.Equal(t, 2, result.Len())

	for _, key := range result.Keys() {
		out, ok := result.Get(key)
		require.True(t, ok)
		require.False(t, out.Failed(), key)
		assert.Contains(t, out.Summary, "Revenue")
		assert.Contains(t, strings.ToLower(out.Summary), "net income")
	}
}

func TestKickoffWithoutFileKeepsDocumentNull(t *testing.T) {
	crew := DefaultCrew(provider.NewKeywordWindow(), zap.NewNop())
	result := crew.Kickoff(context.Background(), RunInputs{Query: "risks?"})

	require.Equal(t, 2, result.Len())
	for _, key := range result.Keys() {
		out, _ := result.Get(key)
		require.False(t, out.Failed())
		v, ok := out.RawInputs["document_text"]
		assert.True(t, ok)
		assert.Nil(t, v)
		assert.Equal(t, "risks?", out.RawInputs["query"])
		assert.Nil(t, out.RawInputs["file_path"])
	}
}

func TestKickoffToolFailureBecomesMarker(t *testing.T) {
	var seen string
	capability := provider.CapabilityFunc(func(_ context.Context, prompt string) (string, error) {
		seen = prompt
		return "ok", nil
	})
	tools := []Tool{
		{Name: "broken", Call: func(context.Context, string) (string, error) {
			return "", errors.New("disk on fire")
		}},
	}
	tasks := []*Task{{Agent: agent.NewWorker("Reader", "read", capability, zap.NewNop()), Tools: tools}}

	result := NewCrew(tasks, ProcessSequential, zap.NewNop()).Kickoff(context.Background(),
		RunInputs{Query: "q", FilePath: "/tmp/x.pdf"})

	out, ok := result.Get("task_0_Reader")
	require.True(t, ok)
	assert.False(t, out.Failed())
	assert.Equal(t, "(tool call failed: disk on fire)", out.RawInputs["document_text"])
	assert.Contains(t, seen, "(tool call failed: disk on fire)")
}

func TestKickoffToolPanicBecomesMarker(t *testing.T) {
	tools := []Tool{{Name: "panicky", Call: func(context.Context, string) (string, error) {
		panic("boom")
	}}}
	tasks := []*Task{{Agent: agent.NewWorker("Reader", "read", echoCapability(), zap.NewNop()), Tools: tools}}

	result := NewCrew(tasks, "", zap.NewNop()).Kickoff(context.Background(),
		RunInputs{FilePath: "/tmp/x.pdf"})

	out, _ := result.Get("task_0_Reader")
	assert.Equal(t, "(tool call failed: boom)", out.RawInputs["document_text"])
}

func TestKickoffLastToolWins(t *testing.T) {
	tasks := []*Task{{
		Agent: agent.NewWorker("Reader", "read", echoCapability(), zap.NewNop()),
		Tools: []Tool{staticTool("first", nil), staticTool("second", nil)},
	}}
	result := NewCrew(tasks, "", zap.NewNop()).Kickoff(context.Background(), RunInputs{FilePath: "f"})

	out, _ := result.Get("task_0_Reader")
	assert.Equal(t, "second", out.RawInputs["document_text"])
}

func TestKickoffReextractsPerToolTask(t *testing.T) {
	var calls int32
	log := zap.NewNop()
	tool := staticTool("doc", &calls)
	tasks := []*Task{
		{Agent: agent.NewWorker("A", "a", echoCapability(), log), Tools: []Tool{tool}},
		{Agent: agent.NewWorker("B", "b", echoCapability(), log)},
		{Agent: agent.NewWorker("C", "c", echoCapability(), log), Tools: []Tool{tool}},
	}
	result := NewCrew(tasks, "", log).Kickoff(context.Background(), RunInputs{FilePath: "f"})

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	b, _ := result.Get("task_1_B")
	assert.Equal(t, "doc", b.RawInputs["document_text"])
}

func TestKickoffToolsSkippedWithoutFile(t *testing.T) {
	var calls int32
	tasks := []*Task{{
		Agent: agent.NewWorker("A", "a", echoCapability(), zap.NewNop()),
		Tools: []Tool{staticTool("doc", &calls)},
	}}
	NewCrew(tasks, "", zap.NewNop()).Kickoff(context.Background(), RunInputs{Query: "q"})
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestKickoffRecoversWorkerPanic(t *testing.T) {
	log := zap.NewNop()
	tasks := []*Task{
		{Description: "no worker"},
		{Agent: agent.NewWorker("Analyst", "a", echoCapability(), log)},
	}
	result := NewCrew(tasks, "", log).Kickoff(context.Background(), RunInputs{Query: "q"})

	assert.Equal(t, []string{"task_0_", "task_1_Analyst"}, result.Keys())
	first, _ := result.Get("task_0_")
	require.True(t, first.Failed())
	assert.True(t, strings.HasPrefix(first.Error, "agent.run failed: "))
	assert.Equal(t, "q", first.RawInputs["query"])

	second, _ := result.Get("task_1_Analyst")
	assert.False(t, second.Failed())
	assert.Equal(t, 1, result.Failures())
}

func TestKickoffNilTaskRecordsError(t *testing.T) {
	log := zap.NewNop()
	tasks := []*Task{nil, {Agent: agent.NewWorker("Analyst", "a", echoCapability(), log)}}
	result := NewCrew(tasks, "", log).Kickoff(context.Background(), RunInputs{Query: "q"})

	assert.Equal(t, []string{"task_0_", "task_1_Analyst"}, result.Keys())
	first, _ := result.Get("task_0_")
	require.True(t, first.Failed())
	assert.Equal(t, "agent.run failed: task is nil", first.Error)
	assert.Equal(t, "q", first.RawInputs["query"])
	assert.Equal(t, 1, result.Failures())
}

func TestKickoffCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := zap.NewNop()
	var ran int32
	capability := provider.CapabilityFunc(func(context.Context, string) (string, error) {
		atomic.AddInt32(&ran, 1)
		cancel()
		return "done", nil
	})
	tasks := []*Task{
		{Agent: agent.NewWorker("A", "a", capability, log)},
		{Agent: agent.NewWorker("B", "b", capability, log)},
	}
	result := NewCrew(tasks, "", log).Kickoff(ctx, RunInputs{Query: "q"})

	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
	a, _ := result.Get("task_0_A")
	assert.False(t, a.Failed())
	b, _ := result.Get("task_1_B")
	require.True(t, b.Failed())
	assert.Equal(t, "run cancelled: context canceled", b.Error)
}

func TestKickoffParallelRunsInOrder(t *testing.T) {
	log := zap.NewNop()
	var order []string
	record := func(role string) *agent.Worker {
		return agent.NewWorker(role, "g", provider.CapabilityFunc(func(context.Context, string) (string, error) {
			order = append(order, role)
			return "", nil
		}), log)
	}
	tasks := []*Task{{Agent: record("A"), Async: true}, {Agent: record("B"), Async: true}}
	NewCrew(tasks, ProcessParallel, log).Kickoff(context.Background(), RunInputs{})
	assert.Equal(t, []string{"A", "B"}, order)
}

func TestCrewWorkersDistinct(t *testing.T) {
	crew := DefaultCrew(nil, nil)
	workers := crew.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, "Financial Document Verifier", workers[0].Role)
	assert.Equal(t, "Senior Financial Analyst", workers[1].Role)
	assert.Equal(t, ProcessSequential, crew.Process())
}

func TestDefaultCrewNilCapability(t *testing.T) {
	result := RunCrew(context.Background(), DefaultCrew(nil, nil), "q", "")
	for _, key := range result.Keys() {
		out, _ := result.Get(key)
		assert.Equal(t, "<nil>", out.Summary)
	}
}

func TestParseProcess(t *testing.T) {
	tests := []struct {
		in      string
		want    Process
		wantErr bool
	}{
		{"", ProcessSequential, false},
		{"sequential", ProcessSequential, false},
		{"Parallel", ProcessParallel, false},
		{"hierarchical", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProcess(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
