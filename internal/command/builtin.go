package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/store"
)

// Analyzer runs a crew analysis.
type Analyzer interface {
	Analyze(ctx context.Context, in orchestrator.RunInputs) (*orchestrator.Analysis, error)
}

// HistoryLister lists stored analyses.
type HistoryLister interface {
	History(ctx context.Context, limit int) ([]store.Analysis, error)
}

// StatusProvider reports chat adapter status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// Deps are the services the builtin commands use. Nil fields leave the
// matching commands unregistered.
type Deps struct {
	Analyzer   Analyzer
	History    HistoryLister
	Dispatcher orchestrator.Dispatcher
	Status     StatusProvider
}

// RegisterBuiltins registers /help plus every command whose dependency is
// present.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register(helpCommand(reg))
	if deps.Analyzer != nil {
		reg.Register(analyzeCommand(deps.Analyzer))
	}
	if deps.History != nil {
		reg.Register(historyCommand(deps.History))
	}
	if deps.Dispatcher != nil {
		reg.Register(submitCommand(deps.Dispatcher))
		reg.Register(jobCommand(deps.Dispatcher))
	}
	if deps.Status != nil {
		reg.Register(statusCommand(deps.Status))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Any other message is analyzed as a question without a document.")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// splitPathQuery reads "<path> [query...]".
func splitPathQuery(args string) (path, query string) {
	path, query, _ = strings.Cut(strings.TrimSpace(args), " ")
	return path, strings.TrimSpace(query)
}

func analyzeCommand(an Analyzer) *Command {
	return &Command{
		Name:        "analyze",
		Description: "Analyze a document on the server",
		Usage:       "/analyze <path> [question]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			path, query := splitPathQuery(args)
			if path == "" {
				return &CommandResult{Content: "Usage: /analyze <path> [question]"}, nil
			}
			a, err := an.Analyze(ctx, orchestrator.RunInputs{Query: query, FilePath: path})
			if err != nil {
				return nil, fmt.Errorf("analyze %s: %w", path, err)
			}
			header := "Analysis"
			if a.ID != 0 {
				header = fmt.Sprintf("Analysis #%d", a.ID)
			}
			return &CommandResult{
				Content: fmt.Sprintf("%s of %s\n%s", header, path, a.Result.Format()),
				Data:    a,
			}, nil
		},
	}
}

func historyCommand(lister HistoryLister) *Command {
	return &Command{
		Name:        "history",
		Description: "Show recent analyses",
		Usage:       "/history [n]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			limit := 10
			if args != "" {
				n, err := strconv.Atoi(args)
				if err != nil || n <= 0 {
					return &CommandResult{Content: "Usage: /history [n]"}, nil
				}
				limit = n
			}
			rows, err := lister.History(ctx, limit)
			if err != nil {
				return nil, fmt.Errorf("history: %w", err)
			}
			if len(rows) == 0 {
				return &CommandResult{Content: "No analyses yet."}, nil
			}
			var b strings.Builder
			b.WriteString("Recent analyses:\n")
			for _, r := range rows {
				fmt.Fprintf(&b, "  #%d %s  %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Query)
			}
			return &CommandResult{Content: b.String(), Data: rows}, nil
		},
	}
}

func submitCommand(d orchestrator.Dispatcher) *Command {
	return &Command{
		Name:        "submit",
		Description: "Queue a document analysis in the background",
		Usage:       "/submit <path> [question]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			path, query := splitPathQuery(args)
			if path == "" {
				return &CommandResult{Content: "Usage: /submit <path> [question]"}, nil
			}
			id, err := d.Submit(ctx, orchestrator.RunInputs{Query: query, FilePath: path})
			if err != nil {
				return nil, fmt.Errorf("submit: %w", err)
			}
			return &CommandResult{
				Content: fmt.Sprintf("Queued job %s. Check it with /job %s", id, id),
				Data:    map[string]string{"job_id": id},
			}, nil
		},
	}
}

func jobCommand(d orchestrator.Dispatcher) *Command {
	return &Command{
		Name:        "job",
		Description: "Show a background job",
		Usage:       "/job <id>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /job <id>"}, nil
			}
			job, err := d.Result(ctx, args)
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				return &CommandResult{Content: fmt.Sprintf("No job %s.", args)}, nil
			}
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", args, err)
			}

			content := fmt.Sprintf("Job %s: %s", job.ID, job.Status)
			switch job.Status {
			case orchestrator.JobFailed:
				content += "\n" + job.Error
			case orchestrator.JobDone:
				if res, err := orchestrator.DecodeAggregated(job.Result); err == nil {
					content += "\n" + res.Format()
				}
			}
			return &CommandResult{Content: content, Data: job}, nil
		},
	}
}

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show chat adapter status",
		Usage:       "/status",
		Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				if a.Error != "" {
					state += " (" + a.Error + ")"
				}
				fmt.Fprintf(&b, "  %s: %s\n", a.Platform, state)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}
