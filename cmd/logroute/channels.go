package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newChannelsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "channels",
		Aliases: []string{"ch"},
		Short:   "List configured channels",
		Long:    ``,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.newEngine(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			defer e.Shutdown()

			bound := make(map[string][]string)
			for _, d := range e.Dispatchers() {
				for _, ch := range d.Channels() {
					bound[ch.Name] = append(bound[ch.Name], d.Name())
				}
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Name", "Access", "File", "Enabled", "Show Logs", "Dispatchers"})
			for _, ch := range e.Channels() {
				t.AppendRow(table.Row{
					ch.Name,
					ch.Access,
					ch.Props.FilePath(),
					strconv.FormatBool(ch.Enabled()),
					strconv.FormatBool(ch.Props.ShowLogsAware),
					strings.Join(bound[ch.Name], ","),
				})
			}
			t.Render()
			return nil
		},
	}
}
