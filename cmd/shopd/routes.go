package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table in registration order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a, err := newApp(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		return printRoutes(cmd.OutOrStdout(), a.table)
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func printRoutes(w io.Writer, table *dispatch.RouteTable) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tMETHOD\tPATH\tMATCH\n")
	for i, e := range table.Entries() {
		method, match := "*", table.Mode().String()
		if e.Exact {
			method, match = e.Method, "exact"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, method, e.Pattern, match)
	}
	return tw.Flush()
}
