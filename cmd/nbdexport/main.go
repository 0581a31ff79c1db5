package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	verbose bool
	logFile string
	logger  *slog.Logger
)

type consoleHandler struct {
	level slog.Leveler
}

// Enabled determines whether the consoleHandler should log messages at the given level.
func (h *consoleHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level.Level()
}

// Handle processes a log record using the consoleHandler.
func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fmt.Printf("[%s] %s", r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Printf(" %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Println()
	return nil
}

// WithAttrs returns a new handler with the given attributes.
func (h *consoleHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup returns a new handler with the given group name.
func (h *consoleHandler) WithGroup(_ string) slog.Handler { return h }

var rootCmd = &cobra.Command{
	Use:          "nbdexport",
	Short:        "Start and supervise NBD export servers for VM disk backup and restore",
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "Write logs to this rotated file instead of the console")
	rootCmd.AddCommand(backupCmd, restoreCmd, mapCmd)
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if logFile != "" {
		sink := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		}
		logger = slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level}))
		return
	}
	logger = slog.New(&consoleHandler{level: level})
}

// main is the entry point for the nbdexport CLI tool.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
