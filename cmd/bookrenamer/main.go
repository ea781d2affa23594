// Package main is the bookrenamer command line: it renames e-books to "Title - Author" using an
// OpenAI-compatible completion service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/bookrenamer/internal/common"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	ledgerDSN  string
)

var rootCmd = &cobra.Command{
	Use:   "bookrenamer",
	Short: "Rename e-books to \"Title - Author\"",
	Long: `bookrenamer scans a directory for PDF, EPUB, MOBI and AZW3 files, asks a language model for
each book's title and author, and renames the file in place.

The filename alone is tried first; when the model cannot tell, a sample of the book's text is sent
to a second model. Existing files are never overwritten.`,
	SilenceUsage: true,
	RunE:         runBatchCmd,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RENAMER_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text")
	rootCmd.PersistentFlags().StringVar(&ledgerDSN, "ledger", "", "Rename ledger DSN (sqlite path or postgres:// URL)")

	registerRunFlags(rootCmd)
	rootCmd.AddCommand(checkCmd, undoCmd, scrambleCmd)
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads file and environment configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("ledger") {
		cfg.Ledger.DSN = ledgerDSN
	}

	logger := common.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
