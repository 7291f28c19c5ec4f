package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/router"
	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/vectorstore"
	"go.uber.org/zap"
)

type stubSearcher struct {
	hits []vectorstore.Hit
	err  error
}

func (s stubSearcher) Search(_ context.Context, _ string, limit int) ([]vectorstore.Hit, error) {
	if len(s.hits) > limit {
		return s.hits[:limit], s.err
	}
	return s.hits, s.err
}

type testEnv struct {
	ts        *httptest.Server
	queue     *orchestrator.MemoryQueue
	uploadDir string
}

// newTestEnv wires the API over a SQLite recorder and the offline keyword
// capability (no Redis/Qdrant).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	rec, err := store.NewSQLite(filepath.Join(dir, "results.db"), logger)
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	if err := rec.Init(context.Background()); err != nil {
		t.Fatalf("init recorder: %v", err)
	}

	svc := orchestrator.NewService(orchestrator.DefaultCrew(provider.NewKeywordWindow(), logger), rec, logger)
	queue := orchestrator.NewMemoryQueue(8)

	gw := gateway.NewGateway(logger)
	rest := gateway.NewRESTAdapter(5*time.Second, logger)
	gw.Register(rest)
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Deps{Analyzer: svc, History: svc, Dispatcher: queue, Status: gw})
	gw.SetHandler(router.New(svc, gw, reg, logger).Handle)

	uploads := filepath.Join(dir, "uploads")
	h := NewHandler(Deps{
		Analyzer:    svc,
		Dispatcher:  queue,
		Archive:     stubSearcher{hits: []vectorstore.Hit{{AnalysisID: 1, Query: "q", Score: 0.9}}},
		Gateway:     gw,
		Broadcaster: gateway.NewBroadcaster(gw, logger),
		REST:        rest,
		UploadDir:   uploads,
	}, logger)

	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, queue: queue, uploadDir: uploads}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

type analysisBody struct {
	ID     int64                      `json:"id"`
	Query  string                     `json:"query"`
	Result map[string]json.RawMessage `json:"result"`
}

func TestAnalyzeJSON(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/analyze", map[string]string{})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var a analysisBody
	decodeJSON(t, resp, &a)
	if a.Query != orchestrator.DefaultQuery {
		t.Errorf("empty query should default, got %q", a.Query)
	}
	if a.ID == 0 {
		t.Error("expected the analysis to be recorded")
	}
	if _, ok := a.Result["task_0_Financial Document Verifier"]; !ok {
		t.Errorf("missing verifier key in %v", a.Result)
	}
	if _, ok := a.Result["task_1_Senior Financial Analyst"]; !ok {
		t.Errorf("missing analyst key in %v", a.Result)
	}

	resp = getJSON(t, env.ts, "/api/analyses")
	var rows []store.Analysis
	decodeJSON(t, resp, &rows)
	if len(rows) != 1 || rows[0].ID != a.ID {
		t.Fatalf("history = %+v", rows)
	}

	resp = getJSON(t, env.ts, "/api/analyses/"+jsonNumber(a.ID))
	if resp.StatusCode != 200 {
		t.Fatalf("get analysis: expected 200, got %d", resp.StatusCode)
	}
	var stored analysisBody
	decodeJSON(t, resp, &stored)
	if len(stored.Result) != 2 {
		t.Errorf("stored result should decode as an object, got %v", stored.Result)
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestAnalyzeBadBody(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.ts.URL+"/api/analyze", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnalyzeUploadRemovesFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("query", "what is the revenue?")
	fw, _ := mw.CreateFormFile("file", "q3.txt")
	fw.Write([]byte("Quarterly revenue grew 12% while net income held flat."))
	mw.Close()

	resp, err := http.Post(env.ts.URL+"/api/analyze", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var a struct {
		FilePath string `json:"file_path"`
		Result   map[string]struct {
			Summary string `json:"summary"`
		} `json:"result"`
	}
	decodeJSON(t, resp, &a)

	if !strings.HasPrefix(filepath.Base(a.FilePath), "financial_document_") || filepath.Ext(a.FilePath) != ".txt" {
		t.Errorf("unexpected upload path %q", a.FilePath)
	}
	if !strings.Contains(a.Result["task_1_Senior Financial Analyst"].Summary, "Quarterly revenue grew") {
		t.Errorf("analysis should see the uploaded text: %+v", a.Result)
	}
	if _, err := os.Stat(a.FilePath); !os.IsNotExist(err) {
		t.Errorf("upload should be removed after the run, stat err = %v", err)
	}
}

func TestAnalyzeAsyncAndJob(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/analyze/async", map[string]string{"query": "margins", "file_path": "/tmp/none.pdf"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	id := body["job_id"]
	if id == "" {
		t.Fatal("expected job id")
	}

	resp = getJSON(t, env.ts, "/api/jobs/"+id)
	var job orchestrator.Job
	decodeJSON(t, resp, &job)
	if job.Status != orchestrator.JobQueued || job.Inputs.Query != "margins" {
		t.Errorf("unexpected job %+v", job)
	}

	resp = getJSON(t, env.ts, "/api/jobs/nope")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}

func TestGetAnalysisErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/analyses/abc")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	resp = getJSON(t, env.ts, "/api/analyses/999")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSearchAnalyses(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/analyses/search")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("missing q: expected 400, got %d", resp.StatusCode)
	}

	resp = getJSON(t, env.ts, "/api/analyses/search?q=revenue")
	var hits []vectorstore.Hit
	decodeJSON(t, resp, &hits)
	if len(hits) != 1 || hits[0].AnalysisID != 1 {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestSearchWithoutArchive(t *testing.T) {
	h := NewHandler(Deps{Analyzer: orchestrator.NewService(nil, nil, zap.NewNop())}, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	for _, path := range []string{"/api/analyses/search?q=x", "/api/jobs/1", "/api/gateway/status"} {
		resp := getJSON(t, ts, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
}

func TestSearchError(t *testing.T) {
	h := NewHandler(Deps{
		Analyzer: orchestrator.NewService(nil, nil, zap.NewNop()),
		Archive:  stubSearcher{err: errors.New("qdrant down")},
	}, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/analyses/search?q=x")
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestBroadcastAndHistory(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/broadcast", map[string]string{"title": "no type"})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing type, got %d", resp.StatusCode)
	}

	resp = postJSON(t, env.ts, "/api/broadcast", gateway.BroadcastMessage{
		Type:  gateway.BroadcastAnnouncement,
		Title: "Q3 filings are in",
	})
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = getJSON(t, env.ts, "/api/broadcasts")
	var records []gateway.BroadcastRecord
	decodeJSON(t, resp, &records)
	if len(records) != 1 || records[0].Message.Title != "Q3 filings are in" {
		t.Errorf("unexpected history %+v", records)
	}
}

func TestRESTGatewayCommand(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/gateway/rest/message", map[string]string{
		"user_name": "ana",
		"content":   "/help",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var reply gateway.OutboundMessage
	decodeJSON(t, resp, &reply)
	if !strings.Contains(reply.Content, "/analyze") {
		t.Errorf("unexpected reply %q", reply.Content)
	}
}

func TestRESTGatewayQuestion(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/gateway/rest/message", map[string]string{"content": "any debt covenants?"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var reply gateway.OutboundMessage
	decodeJSON(t, resp, &reply)
	if !strings.Contains(reply.Content, "*Senior Financial Analyst*") {
		t.Errorf("expected a per-task reply, got %q", reply.Content)
	}

	resp = getJSON(t, env.ts, "/api/gateway/status")
	var statuses []gateway.AdapterStatus
	decodeJSON(t, resp, &statuses)
	if len(statuses) != 1 || statuses[0].Platform != "rest" {
		t.Errorf("unexpected status %+v", statuses)
	}
}
