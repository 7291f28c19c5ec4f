package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/provider"
	"go.uber.org/zap"
)

const (
	excerptLimit = 2000
	previewLimit = 200
)

// Inputs is one worker invocation.
type Inputs struct {
	Query        string
	DocumentText DocumentValue
	FilePath     string
	// Extra keys are copied into the result's raw inputs unchanged.
	Extra map[string]any
}

// Result is what a worker returns for one invocation.
type Result struct {
	Role      string         `json:"role"`
	Summary   string         `json:"summary"`
	RawInputs map[string]any `json:"raw_inputs"`
}

// Worker is a role-bound analyst. It is stateless across invocations.
// MaxIter, MaxRPM and AllowDelegation are carried for definitions and
// reporting; Run does not act on them.
type Worker struct {
	Role            string              `json:"role"`
	Goal            string              `json:"goal"`
	Backstory       string              `json:"backstory,omitempty"`
	Capability      provider.Capability `json:"-"`
	MaxIter         int                 `json:"max_iter"`
	MaxRPM          int                 `json:"max_rpm"`
	AllowDelegation bool                `json:"allow_delegation"`
	Verbose         bool                `json:"verbose"`

	logger *zap.Logger
}

// NewWorker creates a worker with the default tuning values.
func NewWorker(role, goal string, capability provider.Capability, logger *zap.Logger) *Worker {
	return &Worker{
		Role:       role,
		Goal:       goal,
		Capability: capability,
		MaxIter:    1,
		MaxRPM:     10,
		logger:     logger,
	}
}

func (w *Worker) log() *zap.Logger {
	if w.logger == nil {
		return zap.NewNop()
	}
	return w.logger
}

// Prompt assembles the generation prompt for in.
func (w *Worker) Prompt(in Inputs) string {
	parts := []string{
		"Role: " + w.Role,
		"Goal: " + w.Goal,
	}
	if in.Query != "" {
		parts = append(parts, "User query: "+in.Query)
	}
	if text, ok := in.DocumentText.AsText(); ok && text != "" {
		parts = append(parts, "Document excerpt:\n"+truncate(text, excerptLimit))
	}
	return strings.Join(parts, "\n\n")
}

// Run generates the worker's summary for in. Capability failures become
// an inline marker in the summary.
func (w *Worker) Run(ctx context.Context, in Inputs) Result {
	prompt := w.Prompt(in)
	summary := w.generate(ctx, prompt)

	if w.Verbose {
		w.log().Info("worker finished",
			zap.String("role", w.Role),
			zap.Int("prompt_chars", len(prompt)),
			zap.Int("summary_chars", len(summary)))
	}

	return Result{
		Role:      w.Role,
		Summary:   summary,
		RawInputs: PreviewInputs(in),
	}
}

func (w *Worker) generate(ctx context.Context, prompt string) (summary string) {
	if w.Capability == nil {
		return fmt.Sprint(w.Capability)
	}

	defer func() {
		if r := recover(); r != nil {
			w.log().Warn("capability panicked", zap.String("role", w.Role), zap.Any("panic", r))
			summary = fmt.Sprintf("(llm.generate raised an exception: %v)", r)
		}
	}()

	out, err := w.Capability.Generate(ctx, prompt)
	if err != nil {
		w.log().Warn("capability failed", zap.String("role", w.Role), zap.Error(err))
		return fmt.Sprintf("(llm.generate raised an exception: %v)", err)
	}
	return out
}

// PreviewInputs builds the raw inputs map recorded with every result.
// Only document_text is bounded; other keys pass through.
func PreviewInputs(in Inputs) map[string]any {
	raw := make(map[string]any, len(in.Extra)+3)
	for k, v := range in.Extra {
		raw[k] = v
	}
	raw["query"] = in.Query
	raw["file_path"] = optional(in.FilePath)
	raw["document_text"] = in.DocumentText.Preview(previewLimit)
	return raw
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
