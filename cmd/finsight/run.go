package main

import (
	"encoding/json"
	"fmt"

	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	runQuery  string
	runFile   string
	runSave   bool
	runFormat string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the crew once and print the result",
	Example: `  finsight run --file data/TSLA-Q2-2025.pdf --query "Summarize revenue and risks"
  finsight run --file report.txt --format text`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{record: runSave, index: runSave})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.service.Analyze(cmd.Context(), orchestrator.RunInputs{Query: runQuery, FilePath: runFile})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch runFormat {
		case "text":
			fmt.Fprintln(out, res.Result.Format())
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Result)
		default:
			return fmt.Errorf("unknown format %q", runFormat)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runQuery, "query", "q", orchestrator.DefaultQuery, "Question for the analyst")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "PDF or text document to analyze")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Record the result in the configured database")
	runCmd.Flags().StringVar(&runFormat, "format", "json", "Output format: json or text")
}
