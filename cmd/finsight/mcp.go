package main

import (
	"github.com/nidhogg/finsight/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analyze_document tool over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{record: true, index: true})
		if err != nil {
			return err
		}
		defer a.Close()
		return mcpserver.New(version, a.service, a.service, logger).ServeStdio()
	},
}
