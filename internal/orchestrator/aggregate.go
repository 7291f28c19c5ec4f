package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/agent"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ResultKey names a task's entry in the aggregated result.
func ResultKey(index int, role string) string {
	return fmt.Sprintf("task_%d_%s", index, role)
}

// Outcome is one task's entry: either a worker result or an error record.
type Outcome struct {
	Role      string
	Summary   string
	Error     string
	RawInputs map[string]any
}

// Failed reports whether the outcome is an error record.
func (o Outcome) Failed() bool { return o.Error != "" }

func succeeded(r agent.Result) Outcome {
	return Outcome{Role: r.Role, Summary: r.Summary, RawInputs: r.RawInputs}
}

func failed(msg string, in agent.Inputs) Outcome {
	return Outcome{Error: msg, RawInputs: agent.PreviewInputs(in)}
}

type resultRecord struct {
	Role      string         `json:"role"`
	Summary   string         `json:"summary"`
	RawInputs map[string]any `json:"raw_inputs"`
}

type errorRecord struct {
	Error     string         `json:"error"`
	RawInputs map[string]any `json:"raw_inputs"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed() {
		return json.Marshal(errorRecord{Error: o.Error, RawInputs: o.RawInputs})
	}
	return json.Marshal(resultRecord{Role: o.Role, Summary: o.Summary, RawInputs: o.RawInputs})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string         `json:"role"`
		Summary   string         `json:"summary"`
		Error     string         `json:"error"`
		RawInputs map[string]any `json:"raw_inputs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Outcome{Role: raw.Role, Summary: raw.Summary, Error: raw.Error, RawInputs: raw.RawInputs}
	return nil
}

// Aggregated maps task keys to outcomes in task order. Its JSON form is an
// object whose keys keep that order.
type Aggregated struct {
	entries *orderedmap.OrderedMap[string, Outcome]
}

// NewAggregated returns an empty result.
func NewAggregated() *Aggregated {
	return &Aggregated{entries: orderedmap.New[string, Outcome]()}
}

func (a *Aggregated) set(key string, o Outcome) {
	a.entries.Set(key, o)
}

// Get returns the outcome stored under key.
func (a *Aggregated) Get(key string) (Outcome, bool) {
	return a.entries.Get(key)
}

// Len returns the number of entries.
func (a *Aggregated) Len() int { return a.entries.Len() }

// Keys returns entry keys in insertion order.
func (a *Aggregated) Keys() []string {
	keys := make([]string, 0, a.entries.Len())
	for p := a.entries.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Failures counts error records.
func (a *Aggregated) Failures() int {
	n := 0
	for p := a.entries.Oldest(); p != nil; p = p.Next() {
		if p.Value.Failed() {
			n++
		}
	}
	return n
}

func (a *Aggregated) MarshalJSON() ([]byte, error) {
	return a.entries.MarshalJSON()
}

func (a *Aggregated) UnmarshalJSON(data []byte) error {
	a.entries = orderedmap.New[string, Outcome]()
	return a.entries.UnmarshalJSON(data)
}

// DecodeAggregated parses a stored aggregated result.
func DecodeAggregated(data []byte) (*Aggregated, error) {
	a := NewAggregated()
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decode aggregated result: %w", err)
	}
	return a, nil
}

// Format renders the result for chat replies, one block per task.
func (a *Aggregated) Format() string {
	if a.Len() == 0 {
		return "(no tasks ran)"
	}
	var buf strings.Builder
	for p := a.entries.Oldest(); p != nil; p = p.Next() {
		if buf.Len() > 0 {
			buf.WriteString("\n---\n")
		}
		if p.Value.Failed() {
			fmt.Fprintf(&buf, "> *%s* failed: %s", p.Key, p.Value.Error)
			continue
		}
		fmt.Fprintf(&buf, "> *%s*\n%s", p.Value.Role, p.Value.Summary)
	}
	return buf.String()
}
