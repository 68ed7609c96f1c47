package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hnpulse",
		Short: "Detect breakout Hacker News stories from growth-rate anomalies",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(fetchCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(benchmarksCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func fetchCmd() *cobra.Command {
	var skipDetect bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one ingestion cycle (fetch posts, snapshot, detect breakouts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(skipDetect)
		},
	}

	cmd.Flags().BoolVar(&skipDetect, "skip-detect", false, "ingest only, skip breakout detection")
	return cmd
}

func alertsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent breakout alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max alerts to show")
	return cmd
}

func benchmarksCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "benchmarks",
		Short: "Recompute growth benchmarks from snapshot history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmarks(seed)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "seed default benchmarks instead of recomputing")
	return cmd
}

func digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Batch unsent alerts into one digest notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest()
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
