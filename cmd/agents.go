// File: cmd/agents.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/diligence-cli/internal/registry"
)

// newAgentsCmd creates the `agents` command, which prints the configured
// agent roster without touching the network.
func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Lists the configured analysis agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(appConfig.Agents)
			if err != nil {
				return fmt.Errorf("failed to build agent registry: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tID\tDISPLAY NAME")
			for _, name := range reg.Names() {
				a, _ := reg.Lookup(name)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Kind, a.ID, a.DisplayName)
			}
			return tw.Flush()
		},
	}
}
