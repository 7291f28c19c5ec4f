package orchestrator

import (
	"fmt"
	"os"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/provider"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Definition is a crew described in YAML.
type Definition struct {
	Process string      `yaml:"process"`
	Agents  []AgentSpec `yaml:"agents"`
	Tasks   []TaskSpec  `yaml:"tasks"`
}

// AgentSpec declares one worker.
type AgentSpec struct {
	ID              string `yaml:"id"`
	Role            string `yaml:"role"`
	Goal            string `yaml:"goal"`
	Backstory       string `yaml:"backstory"`
	MaxIter         int    `yaml:"max_iter"`
	MaxRPM          int    `yaml:"max_rpm"`
	AllowDelegation bool   `yaml:"allow_delegation"`
	Verbose         bool   `yaml:"verbose"`
}

// TaskSpec declares one task; Agent refers to an AgentSpec ID.
type TaskSpec struct {
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Agent          string   `yaml:"agent"`
	Tools          []string `yaml:"tools"`
	Async          bool     `yaml:"async"`
}

// LoadDefinition reads a crew definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crew definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a YAML crew definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse crew definition: %w", err)
	}
	return &def, nil
}

// Build turns the definition into a crew. Every worker shares capability;
// tools are resolved by name from tools.
func (d *Definition) Build(capability provider.Capability, tools map[string]Tool, logger *zap.Logger) (*Crew, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	process, err := ParseProcess(d.Process)
	if err != nil {
		return nil, err
	}
	if len(d.Tasks) == 0 {
		return nil, ErrEmptyCrew
	}

	roster := agent.NewRoster(logger)
	for _, spec := range d.Agents {
		if _, exists := roster.Get(spec.ID); exists {
			return nil, fmt.Errorf("duplicate agent id %q", spec.ID)
		}
		w := agent.NewWorker(spec.Role, spec.Goal, capability, logger)
		w.Backstory = spec.Backstory
		if spec.MaxIter > 0 {
			w.MaxIter = spec.MaxIter
		}
		if spec.MaxRPM > 0 {
			w.MaxRPM = spec.MaxRPM
		}
		w.AllowDelegation = spec.AllowDelegation
		w.Verbose = spec.Verbose
		if err := roster.Register(spec.ID, w); err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}

	tasks := make([]*Task, 0, len(d.Tasks))
	for i, spec := range d.Tasks {
		w, ok := roster.Get(spec.Agent)
		if !ok {
			return nil, fmt.Errorf("task %d: unknown agent %q", i, spec.Agent)
		}
		task := &Task{
			Description:    spec.Description,
			ExpectedOutput: spec.ExpectedOutput,
			Agent:          w,
			Async:          spec.Async,
		}
		for _, name := range spec.Tools {
			tool, ok := tools[name]
			if !ok {
				return nil, fmt.Errorf("task %d: unknown tool %q", i, name)
			}
			task.Tools = append(task.Tools, tool)
		}
		tasks = append(tasks, task)
	}

	logger.Info("crew built",
		zap.Strings("agents", roster.IDs()),
		zap.Int("tasks", len(tasks)),
		zap.String("process", string(process)))
	return NewCrew(tasks, process, logger), nil
}
