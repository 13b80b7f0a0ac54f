package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "shopd",
	Short:         "shopd: a web shop served by a sequential handler dispatcher",
	Long:          `Serves a small web shop whose requests run through handlers in registration order until one of them responds.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "shop.toml", "config file (.toml, .yaml or .yml)")
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
