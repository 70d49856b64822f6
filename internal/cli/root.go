// Package cli implements the ytchat command line: ingest transcript files,
// rebuild the vector index, ask questions and run the HTTP server, all over
// the same engine configuration as the server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/transcript-chat/internal/app"
	"github.com/tbourn/transcript-chat/internal/config"
	"github.com/tbourn/transcript-chat/internal/sysutil"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// env holds what PersistentPreRunE resolved for the subcommands.
type env struct {
	envFile  string
	logLevel string
	cfg      config.Config

	// build constructs the engine; tests swap it.
	build func(config.Config, ...app.Option) (*app.App, error)
}

// NewRootCmd returns the ytchat command tree.
func NewRootCmd() *cobra.Command {
	e := &env{build: app.Build}

	root := &cobra.Command{
		Use:   "ytchat",
		Short: "Grounded question answering over YouTube channel transcripts",
		Long: `ytchat indexes transcripts of a channel's videos and answers questions
from them, citing the video and timestamp the answer came from.

Configuration comes from the environment (and an optional .env file); see
the server documentation for the full list of keys.

Example usage:
  ytchat ingest ./transcripts --user me --channel UC123 --name "My channel"
  ytchat ask --user me --channel UC123 "how do I feed a sourdough starter?"
  ytchat rebuild
  ytchat serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(e.envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if e.logLevel != "" {
				cfg.LogLevel = e.logLevel
			}
			sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
			e.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.envFile, "env-file", ".env", "dotenv file to load (ignored when missing)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newIngestCmd(e),
		newAskCmd(e),
		newRebuildCmd(e),
		newServeCmd(e),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, stop := sysutil.SignalContext(context.Background())
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// open builds the engine and reloads the index from the store.
func (e *env) open(ctx context.Context, out io.Writer) (*app.App, error) {
	a, err := e.build(e.cfg)
	if err != nil {
		return nil, err
	}
	n, err := a.LoadIndex(ctx)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("load index: %w", err)
	}
	if n > 0 {
		fmt.Fprintf(out, "Loaded %d vectors\n", n)
	}
	return a, nil
}
