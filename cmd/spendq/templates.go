package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canopy-network/spendq/pkg/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the query template catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TEMPLATE\tTABLE\tKIND\tWINDOW\tSLOTS\tTITLE")
		for _, t := range templates.Default().All() {
			slots := make([]string, 0, len(t.Slots))
			for _, s := range t.Slots {
				slots = append(slots, s.Name+":"+string(s.Kind))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.Key(), t.Table, t.Kind, t.Window, strings.Join(slots, ","), t.Title)
		}
		return w.Flush()
	},
}
