// Package mcpserver exposes the analysis crew as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"go.uber.org/zap"
)

// Server wraps the mcp-go server with the finsight tools.
type Server struct {
	mcpServer *server.MCPServer
	analyzer  command.Analyzer
	history   command.HistoryLister
	logger    *zap.Logger
}

// New creates the server and registers its tools. history may be nil.
func New(version string, analyzer command.Analyzer, history command.HistoryLister, logger *zap.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("finsight", version, server.WithLogging()),
		analyzer:  analyzer,
		history:   history,
		logger:    logger,
	}

	s.mcpServer.AddTool(
		mcp.NewTool(
			"analyze_document",
			mcp.WithDescription("Run the financial analysis crew over a document and return the per-task results as JSON."),
			mcp.WithString("query", mcp.Required(), mcp.Description("What to look for in the document")),
			mcp.WithString("file_path", mcp.Description("Path of a PDF or text file readable by the server")),
		),
		s.handleAnalyze,
	)

	if history != nil {
		s.mcpServer.AddTool(
			mcp.NewTool(
				"recent_analyses",
				mcp.WithDescription("List recently stored analyses, newest first."),
				mcp.WithNumber("limit", mcp.Description("Max number of results (default 10)")),
			),
			s.handleRecent,
		)
	}
	return s
}

// ServeStdio serves until stdin closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query argument required"), nil
	}
	filePath, _ := args["file_path"].(string)

	a, err := s.analyzer.Analyze(ctx, orchestrator.RunInputs{Query: query, FilePath: filePath})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	data, err := json.Marshal(a.Result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 10
	if l, ok := request.GetArguments()["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	rows, err := s.history.History(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history failed: %v", err)), nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
