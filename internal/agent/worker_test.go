package agent

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nidhogg/finsight/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoCapability() provider.Capability {
	return provider.CapabilityFunc(func(_ context.Context, prompt string) (string, error) {
		return prompt, nil
	})
}

func newAnalyst(c provider.Capability) *Worker {
	return NewWorker("Senior Financial Analyst", "Extract key financial metrics and provide concise insights.", c, zap.NewNop())
}

func TestRun_NullDocument(t *testing.T) {
	w := newAnalyst(provider.NewKeywordWindow())

	res := w.Run(context.Background(), Inputs{Query: "risks?"})

	assert.Equal(t, "Senior Financial Analyst", res.Role)
	require.Contains(t, res.RawInputs, "document_text")
	assert.Nil(t, res.RawInputs["document_text"])
	assert.Equal(t, "risks?", res.RawInputs["query"])
	assert.Nil(t, res.RawInputs["file_path"])
	assert.NotContains(t, w.Prompt(Inputs{Query: "risks?"}), "Document excerpt")
}

func TestRun_PreviewTruncation(t *testing.T) {
	w := newAnalyst(echoCapability())

	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", ""},
		{"short", "Revenue grew", "Revenue grew"},
		{"exactly 200", strings.Repeat("a", 200), strings.Repeat("a", 200)},
		{"201", strings.Repeat("b", 201), strings.Repeat("b", 200) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := w.Run(context.Background(), Inputs{DocumentText: Text(tt.text)})
			assert.Equal(t, tt.want, res.RawInputs["document_text"])
		})
	}
}

func TestPrompt_ExcerptTruncation(t *testing.T) {
	w := newAnalyst(nil)

	short := strings.Repeat("c", 2000)
	assert.True(t, strings.HasSuffix(w.Prompt(Inputs{DocumentText: Text(short)}), "Document excerpt:\n"+short))

	long := strings.Repeat("d", 2001)
	assert.True(t, strings.HasSuffix(w.Prompt(Inputs{DocumentText: Text(long)}), "Document excerpt:\n"+strings.Repeat("d", 2000)+"..."))
}

func TestPrompt_Composition(t *testing.T) {
	w := NewWorker("Verifier", "Check it.", nil, nil)

	got := w.Prompt(Inputs{Query: "Summarize", DocumentText: Text("Revenue 5")})
	assert.Equal(t, "Role: Verifier\n\nGoal: Check it.\n\nUser query: Summarize\n\nDocument excerpt:\nRevenue 5", got)

	assert.Equal(t, "Role: Verifier\n\nGoal: Check it.", w.Prompt(Inputs{DocumentText: Text("")}))
	assert.Equal(t, "Role: Verifier\n\nGoal: Check it.", w.Prompt(Inputs{DocumentText: Number(3)}))
}

type panicStringer struct{}

func (panicStringer) String() string { panic("cannot render") }

func TestRun_NonTextCoercion(t *testing.T) {
	w := newAnalyst(provider.NewKeywordWindow())

	tests := []struct {
		name  string
		value DocumentValue
		want  any
	}{
		{"integer", Number(42), "42"},
		{"float", Number(1.5), "1.5"},
		{"mapping", Mapping(map[string]any{"a": 1}), `{"a":1}`},
		{"long mapping", Mapping(map[string]any{"k": strings.Repeat("z", 300)}), `{"k":"` + strings.Repeat("z", 194) + "..."},
		{"slice", Other([]int{1, 2}), "[1 2]"},
		{"error", Other(errors.New("bad")), "bad"},
		{"panicking stringer", Other(panicStringer{}), "(unrepresentable)"},
		{"unencodable mapping", Mapping(map[string]any{"f": math.Inf(1)}), "(unrepresentable)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() {
				res = w.Run(context.Background(), Inputs{Query: "x", DocumentText: tt.value})
			})
			assert.Equal(t, tt.want, res.RawInputs["document_text"])
		})
	}
}

func TestRun_MappingDocument(t *testing.T) {
	w := newAnalyst(provider.NewKeywordWindow())

	res := w.Run(context.Background(), Inputs{Query: "x", DocumentText: ValueOf(map[string]any{"a": 1})})

	preview, ok := res.RawInputs["document_text"].(string)
	require.True(t, ok, "preview should be a string, got %T", res.RawInputs["document_text"])
	assert.Equal(t, `{"a":1}`, preview)
}

func TestRun_CapabilityFailures(t *testing.T) {
	tests := []struct {
		name       string
		capability provider.Capability
		want       string
	}{
		{
			name: "error",
			capability: provider.CapabilityFunc(func(context.Context, string) (string, error) {
				return "", errors.New("quota exceeded")
			}),
			want: "(llm.generate raised an exception: quota exceeded)",
		},
		{
			name: "panic",
			capability: provider.CapabilityFunc(func(context.Context, string) (string, error) {
				panic("model crashed")
			}),
			want: "(llm.generate raised an exception: model crashed)",
		},
		{
			name:       "missing capability",
			capability: nil,
			want:       "<nil>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newAnalyst(tt.capability)
			res := w.Run(context.Background(), Inputs{Query: "q", DocumentText: Text("cash")})
			assert.Equal(t, tt.want, res.Summary)
			assert.Equal(t, "cash", res.RawInputs["document_text"])
		})
	}
}

func TestRun_KeywordSummary(t *testing.T) {
	w := newAnalyst(provider.NewKeywordWindow())
	doc := "Revenue grew 18% year-over-year to $25,000M. Net income improved to $1,200M."

	res := w.Run(context.Background(), Inputs{Query: "Summarize", DocumentText: Text(doc), FilePath: "/tmp/r.txt"})

	assert.Contains(t, res.Summary, "Revenue grew")
	assert.Contains(t, res.Summary, "---")
	assert.Equal(t, "/tmp/r.txt", res.RawInputs["file_path"])
}

func TestPreviewInputs_ExtraPassThrough(t *testing.T) {
	nested := map[string]any{"page": 3}
	raw := PreviewInputs(Inputs{Extra: map[string]any{"meta": nested, "document_text": "ignored"}})

	assert.Equal(t, nested, raw["meta"])
	assert.Nil(t, raw["document_text"])
}

func TestRun_EmptyQueryKeepsString(t *testing.T) {
	w := newAnalyst(provider.NewKeywordWindow())

	res := w.Run(context.Background(), Inputs{Query: "", DocumentText: Null()})

	require.Contains(t, res.RawInputs, "query")
	assert.Equal(t, "", res.RawInputs["query"])
	assert.Nil(t, res.RawInputs["file_path"])
}
