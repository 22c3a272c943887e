// File: cmd/analyze.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/internal/observability"
	"github.com/xkilldash9x/diligence-cli/internal/report"
)

// newAnalyzeCmd creates the `analyze` command: a full coordinated analysis
// through the coordinator agent.
func newAnalyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze \"question\"",
		Short: "Runs a coordinated due-diligence analysis across all agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			comps, err := initializeComponents(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			agg, err := comps.Orchestrator.RunCoordinatedAnalysis(ctx, args[0])
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			reporter, err := report.New(format, output)
			if err != nil {
				return err
			}
			defer func() {
				if err := reporter.Close(); err != nil {
					logger.Error("Failed to close reporter", zap.Error(err))
				}
			}()

			if err := reporter.WriteAggregated(agg); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			if agg.Error != "" {
				return fmt.Errorf("analysis failed: %s", agg.Error)
			}
			logger.Info("Analysis complete", zap.String("run_id", agg.RunID), zap.Int("risk_score", agg.OverallRiskScore))
			return nil
		},
	}

	analyzeCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	analyzeCmd.Flags().StringP("format", "f", "text", "Report format ('text' or 'json').")

	return analyzeCmd
}
