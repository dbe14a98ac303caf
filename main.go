package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"tomorrowbot/handler"
	"tomorrowbot/repo"
	"tomorrowbot/session"
)

type config struct {
	BotToken     string `env:"BOT_TOKEN,required"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"events.db"`
}

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := repo.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("opening event store")
	}
	defer store.Close()

	h := handler.New(store, session.NewStore())

	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(h.Handle))
	if err != nil {
		log.Fatal().Err(err).Msg("creating bot")
	}

	log.Info().Str("database", cfg.DatabasePath).Msg("bot started")
	b.Start(ctx)
	log.Info().Msg("bot stopped")
}
