// Copyright 2024-2026 Aiku AI

// Command discordlink bridges an Eco game server with a Discord or
// Mattermost server. It relays chat in both directions, keeps live display
// messages of the game state in linked channels and turns reactions on
// election displays into votes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/aiku/discordlink/pkg/config"
	"github.com/aiku/discordlink/pkg/connector"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/metrics"
	"github.com/aiku/discordlink/pkg/remote"
	"github.com/aiku/discordlink/pkg/remote/discord"
	"github.com/aiku/discordlink/pkg/remote/mattermost"
	"github.com/aiku/discordlink/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "discordlink:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("discordlink", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the config file")
	noUpdate := flags.Bool("no-update", false, "don't write the upgraded config back to disk")
	generate := flags.BoolP("generate-example-config", "e", false, "write the example config to --config and exit")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment overlay")
	showVersion := flags.BoolP("version", "v", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("discordlink %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if *generate {
		if err := config.WriteExample(*configPath); err != nil {
			return err
		}
		fmt.Println("Wrote example config to", *configPath)
		return nil
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	cfg, err := config.Load(*configPath, !*noUpdate)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Str("platform", cfg.Platform).Msg("Starting DiscordLink")
	for _, err := range cfg.InvalidLinks() {
		log.Warn().Err(err).Msg("Invalid channel link in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	world := game.NewWorld(log)
	hub := game.NewHub(world, cfg.Game.Token, log)
	conn, err := connector.New(connector.Options{
		Config:      cfg,
		Server:      world,
		NewPlatform: platformFactory(cfg, log),
		Store:       db,
		Hub:         hub,
		Metrics:     metrics.New(),
		Reload: func() (*config.Config, error) {
			return config.Load(*configPath, false)
		},
		Log: log,
	})
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("status", conn.GetStatus()).Msg("Client started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	conn.Stop()
	return nil
}

func platformFactory(cfg *config.Config, log zerolog.Logger) connector.PlatformFactory {
	return func() (remote.Platform, error) {
		if cfg.Platform == config.PlatformMattermost {
			p, err := mattermost.New(mattermost.Config{
				ServerURL:           cfg.Mattermost.ServerURL,
				Token:               cfg.Mattermost.Token,
				DisplaynameTemplate: cfg.Mattermost.DisplaynameTemplate,
			}, log)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		p, err := discord.New(cfg.Discord.Token, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func newLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := cfg.ZerologLevel()
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}
