// Command perfprobe spawns a target program, attaches the perf_event
// counter engine to it, and prints metric snapshots to stdout and session
// log and error lines to stderr until the target exits or the operator
// stops the session.
//
// Usage:
//
//	perfprobe run --config perfprobe.yaml -- /usr/bin/stress --cpu 1
//	perfprobe run --metric cpu_cycles --metric instructions --interval-ms 250 -- sleep 5
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "perfprobe",
	Short: "Attach perf_event counters to a child process and report samples",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the perfprobe version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "perfprobe: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
