package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nxtg-forge/termbridge/internal/config"
)

var runspacesCmd = &cobra.Command{
	Use:   "runspaces",
	Short: "List the runspaces terminals can be opened in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Read()
		if err != nil {
			return err
		}
		resolver, _, err := loadResolver(settings)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCWD\tSHELL")
		for _, rs := range resolver.List() {
			shell := rs.Shell
			if shell == "" {
				shell = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", rs.ID, rs.Cwd, shell)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "termbridge %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(runspacesCmd)
	rootCmd.AddCommand(versionCmd)
}
