package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jansone-dace/OSI-2019/user"
)

var programsCmd = &cobra.Command{
	Use:   "programs",
	Short: "List the user programs that can be run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range user.Programs() {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(programsCmd)
}
