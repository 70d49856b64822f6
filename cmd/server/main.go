// Command server runs the transcript-chat HTTP API.
//
//	@title						transcript-chat API
//	@version					1.0
//	@description				Grounded question answering over YouTube channel transcripts.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/transcript-chat/internal/config"
	"github.com/tbourn/transcript-chat/internal/server"
	"github.com/tbourn/transcript-chat/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	ctx, stop := sysutil.SignalContext(context.Background())
	defer stop()

	if err := server.Run(ctx, cfg, version); err != nil {
		log.Error().Err(err).Msg("server exited")
		stop()
		os.Exit(1)
	}
}
