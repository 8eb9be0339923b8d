package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/warpengine/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warpctl",
	Short: "warpctl talks to a running warpd over its HTTP surface",
	Long: `warpctl is a thin client for warpd: it reads contract state, dry-runs
interactions, and administers the sort-key cache of a running daemon.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("warpctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8787", "warpd API base URL")
	rootCmd.PersistentFlags().String("token", "", "admin bearer token (required for cache subcommands)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(readStateCmd)
	rootCmd.AddCommand(viewStateCmd)
	rootCmd.AddCommand(dryWriteCmd)
	rootCmd.AddCommand(cacheCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var readStateCmd = &cobra.Command{
	Use:   "read-state <contractTxID>",
	Short: "Fold a contract and print its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cmd)
		sortKey, _ := cmd.Flags().GetString("sort-key")

		body, err := client.readState(cmd.Context(), args[0], sortKey)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

func init() {
	readStateCmd.Flags().String("sort-key", "", "sort-key to fold up to (default: the current tip)")
}

var viewStateCmd = &cobra.Command{
	Use:   "view-state <contractTxID> <inputJSON>",
	Short: "Run a read-only interaction against the current state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cmd)
		caller, _ := cmd.Flags().GetString("caller")

		body, err := client.viewOrDryWrite(cmd.Context(), "view", args[0], args[1], caller)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var dryWriteCmd = &cobra.Command{
	Use:   "dry-write <contractTxID> <inputJSON>",
	Short: "Run a what-if write interaction without persisting or posting it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cmd)
		caller, _ := cmd.Flags().GetString("caller")

		body, err := client.viewOrDryWrite(cmd.Context(), "dry-write", args[0], args[1], caller)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

func init() {
	viewStateCmd.Flags().String("caller", "", "address to evaluate the interaction as")
	dryWriteCmd.Flags().String("caller", "", "address to evaluate the interaction as")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune a contract's sort-key cache entries",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune <contractTxID>",
	Short: "Retain only the N most recent cache entries for a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cmd)
		retain, _ := cmd.Flags().GetInt("retain")

		body, err := client.cachePrune(cmd.Context(), args[0], retain)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var cacheDumpCmd = &cobra.Command{
	Use:   "dump <contractTxID>",
	Short: "List every sort-key cached for a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cmd)

		body, err := client.cacheKeys(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

func init() {
	cachePruneCmd.Flags().Int("retain", 10, "number of most-recent entries to retain")
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheDumpCmd)
}
