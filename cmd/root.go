// Package cmd is corrobot's CLI surface. Per spec.md §6, corrobot is one
// long-running process with no operator subcommands beyond database
// migration management, a local health check and a version printout
// (migrate, doctor, version) — it has
// no admin bot, no REPL, no per-message commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/ravidnaor/corrobot/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "corrobot",
	Short: "corrobot — multi-source intelligence aggregator",
	Long:  "corrobot ingests messages from source and smart chat channels, correlates them into events, scores channel authority by corroboration, and dispatches consolidated reports. It runs as a single long-lived process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCorrobot(cmd.Context(), resolveConfigPath())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $CORROBOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corrobot %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CORROBOT_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command. It returns the process exit code per
// spec.md §6: 0 on graceful shutdown, 1 on missing credentials or a broken
// session that prevented startup.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
