package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version and exit",
		Long:    ``,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s, released: %s, commit: %s\n",
				ReleaseVersion, ReleaseDate, ReleaseCommit)
		},
	}
}
