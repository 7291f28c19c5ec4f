package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/finsight/internal/agent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEmptyCrew is returned when a crew definition has no tasks.
var ErrEmptyCrew = errors.New("crew has no tasks")

const instrumentation = "github.com/nidhogg/finsight/internal/orchestrator"

// Crew runs an ordered list of tasks over one document. Run state lives in
// Kickoff, so a Crew can be shared between goroutines.
type Crew struct {
	tasks   []*Task
	process Process
	tracer  trace.Tracer
	outcome metric.Int64Counter
	logger  *zap.Logger
}

// NewCrew creates a crew over tasks. The task order is the run order.
func NewCrew(tasks []*Task, process Process, logger *zap.Logger) *Crew {
	if logger == nil {
		logger = zap.NewNop()
	}
	if process == "" {
		process = ProcessSequential
	}
	counter, err := otel.Meter(instrumentation).Int64Counter("finsight.tasks",
		metric.WithDescription("Crew task outcomes"))
	if err != nil {
		logger.Warn("task counter unavailable", zap.Error(err))
		counter, _ = noop.NewMeterProvider().Meter(instrumentation).Int64Counter("finsight.tasks")
	}
	return &Crew{
		tasks:   tasks,
		process: process,
		tracer:  otel.Tracer(instrumentation),
		outcome: counter,
		logger:  logger,
	}
}

// Tasks returns the crew's tasks in run order.
func (c *Crew) Tasks() []*Task { return c.tasks }

// Process returns the configured process tag.
func (c *Crew) Process() Process { return c.process }

// Workers returns the distinct workers in first-use order.
func (c *Crew) Workers() []*agent.Worker {
	seen := make(map[*agent.Worker]bool)
	var out []*agent.Worker
	for _, t := range c.tasks {
		if t == nil || t.Agent == nil || seen[t.Agent] {
			continue
		}
		seen[t.Agent] = true
		out = append(out, t.Agent)
	}
	return out
}

// Kickoff runs every task in order and collects one entry per task. No
// failure aborts the run; failures become error records or inline markers.
func (c *Crew) Kickoff(ctx context.Context, in RunInputs) *Aggregated {
	ctx, span := c.tracer.Start(ctx, "Crew.Kickoff", trace.WithAttributes(
		attribute.Int("crew.tasks", len(c.tasks)),
		attribute.String("crew.process", string(c.process)),
	))
	defer span.End()

	if c.process == ProcessParallel {
		c.logger.Debug("parallel process runs sequentially")
	}

	result := NewAggregated()
	doc := agent.Null()

	for i, task := range c.tasks {
		role := task.role()
		key := ResultKey(i, role)

		if err := ctx.Err(); err != nil {
			inputs := agent.Inputs{Query: in.Query, DocumentText: doc, FilePath: in.FilePath}
			result.set(key, failed(fmt.Sprintf("run cancelled: %v", err), inputs))
			c.outcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			continue
		}

		if task == nil {
			inputs := agent.Inputs{Query: in.Query, DocumentText: doc, FilePath: in.FilePath}
			result.set(key, failed("agent.run failed: task is nil", inputs))
			c.outcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			continue
		}

		if len(task.Tools) > 0 && in.FilePath != "" {
			for _, tool := range task.Tools {
				doc = c.callTool(ctx, tool, in.FilePath)
			}
		}

		inputs := agent.Inputs{Query: in.Query, DocumentText: doc, FilePath: in.FilePath}
		result.set(key, c.runTask(ctx, i, task, inputs))
	}

	if n := result.Failures(); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d task(s) failed", n))
	}
	return result
}

func (c *Crew) callTool(ctx context.Context, tool Tool, path string) (doc agent.DocumentValue) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("tool panicked", zap.String("tool", tool.Name), zap.Any("panic", r))
			doc = agent.Text(fmt.Sprintf("(tool call failed: %v)", r))
		}
	}()

	if tool.Call == nil {
		return agent.Text(fmt.Sprintf("(tool call failed: tool %q has no implementation)", tool.Name))
	}
	text, err := tool.Call(ctx, path)
	if err != nil {
		c.logger.Warn("tool failed", zap.String("tool", tool.Name), zap.Error(err))
		return agent.Text(fmt.Sprintf("(tool call failed: %v)", err))
	}
	return agent.Text(text)
}

func (c *Crew) runTask(ctx context.Context, index int, task *Task, in agent.Inputs) (out Outcome) {
	role := task.role()
	ctx, span := c.tracer.Start(ctx, "Crew.Task", trace.WithAttributes(
		attribute.Int("task.index", index),
		attribute.String("task.role", role),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("task panicked",
				zap.Int("task", index),
				zap.String("role", role),
				zap.Any("panic", r))
			out = failed(fmt.Sprintf("agent.run failed: %v", r), in)
		}

		status := "ok"
		if out.Failed() {
			status = "error"
			span.SetStatus(codes.Error, out.Error)
		}
		c.outcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status)))
		span.End()

		c.logger.Info("task finished",
			zap.Int("task", index),
			zap.String("role", role),
			zap.String("outcome", status),
			zap.Duration("duration", time.Since(start)))
	}()

	c.logger.Info("task started", zap.Int("task", index), zap.String("role", role))
	return succeeded(task.Agent.Run(ctx, in))
}
