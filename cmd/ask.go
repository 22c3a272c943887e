// File: cmd/ask.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/internal/observability"
	"github.com/xkilldash9x/diligence-cli/internal/registry"
	"github.com/xkilldash9x/diligence-cli/internal/report"
)

// newAskCmd creates the `ask` command: a single question against the
// document Q&A agent.
func newAskCmd() *cobra.Command {
	askCmd := &cobra.Command{
		Use:   "ask \"question\"",
		Short: "Asks the document Q&A agent a question about the uploaded corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleAgent(cmd, registry.NameDocumentQA, args[0])
		},
	}

	askCmd.Flags().StringP("output", "o", "", "Output file path for the answer. If unset, the answer goes to stdout.")
	askCmd.Flags().StringP("format", "f", "text", "Answer format ('text' or 'json').")

	return askCmd
}

// newInvokeCmd creates the `invoke` command: one named agent, one query.
func newInvokeCmd() *cobra.Command {
	invokeCmd := &cobra.Command{
		Use:   "invoke <agent> \"query\"",
		Short: "Invokes a single analysis agent by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleAgent(cmd, args[0], args[1])
		},
	}

	invokeCmd.Flags().StringP("output", "o", "", "Output file path for the result. If unset, the result goes to stdout.")
	invokeCmd.Flags().StringP("format", "f", "text", "Result format ('text' or 'json').")

	return invokeCmd
}

func runSingleAgent(cmd *cobra.Command, agentName, query string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	comps, err := initializeComponents(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	resp, err := comps.Orchestrator.RunAgent(ctx, query, agentName)
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

	if err := reporter.WriteAnswer(agentName, resp); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if resp.Failed() {
		return fmt.Errorf("agent %s did not produce a result", agentName)
	}
	return nil
}
