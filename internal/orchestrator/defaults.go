package orchestrator

import (
	"context"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/document"
	"github.com/nidhogg/finsight/internal/provider"
	"go.uber.org/zap"
)

// DefaultQuery is used when a run is started without a query.
const DefaultQuery = "Analyze this financial document for investment insights"

// ReadDocumentTool is the tool name used by crew definitions.
const ReadDocumentTool = "read_document"

// DocumentTools returns the tools crew definitions may reference by name.
func DocumentTools(ex *document.Extractor) map[string]Tool {
	return map[string]Tool{
		ReadDocumentTool: {Name: ReadDocumentTool, Call: ex.ReadData},
	}
}

// DefaultCrew builds the verification then analysis crew. Both workers
// share capability.
func DefaultCrew(capability provider.Capability, logger *zap.Logger) *Crew {
	if logger == nil {
		logger = zap.NewNop()
	}
	read := DocumentTools(document.NewExtractor(logger))[ReadDocumentTool]

	verifier := agent.NewWorker("Financial Document Verifier",
		"Check whether document resembles a financial report.", capability, logger)
	analyst := agent.NewWorker("Senior Financial Analyst",
		"Extract key financial metrics and provide concise insights.", capability, logger)

	tasks := []*Task{
		{
			Description:    "Verify the uploaded file is a financial document.",
			ExpectedOutput: "Yes/No with brief reason.",
			Agent:          verifier,
			Tools:          []Tool{read},
		},
		{
			Description:    "Analyze the uploaded document and extract trends and risks. User query: {query}",
			ExpectedOutput: "Structured analysis: revenue, profit, cashflow, risks, opportunities.",
			Agent:          analyst,
			Tools:          []Tool{read},
		},
	}
	return NewCrew(tasks, ProcessSequential, logger)
}

// RunCrew kicks off crew with a query and file path.
func RunCrew(ctx context.Context, crew *Crew, query, filePath string) *Aggregated {
	return crew.Kickoff(ctx, RunInputs{Query: query, FilePath: filePath})
}
