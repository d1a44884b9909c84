package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zvirb/comandind-sub004/internal/depgraph"
)

var validateCmd = &cobra.Command{
	Use:   "validate [table.yaml]",
	Short: "Validate a dependency table and print its edges",
	Long: `Loads a dependency table, validates every edge and rejects cycles.
Without an argument the built-in table is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		table  *depgraph.Table
		err    error
		source = "built-in table"
	)
	if len(args) == 1 {
		source = args[0]
		table, err = depgraph.LoadTable(args[0])
	} else {
		table, err = depgraph.DefaultTable()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	g, err := depgraph.New(table)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tDEPENDS ON\tTYPE\tWEIGHT\tTHRESHOLD\tBREAKER\tRETRIES")
	for _, e := range g.Edges() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%t\t%d\n",
			e.Service, e.DependsOn, e.Type, e.Weight, e.HealthThreshold, e.CircuitBreakerEnabled, e.RetryCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s: %d services, %d edges, no cycles\n", source, len(g.Services()), len(g.Edges()))
	return nil
}
