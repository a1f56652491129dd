package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/abelzeko/reservoir-wrangler/internal/api"
	"github.com/abelzeko/reservoir-wrangler/internal/config"
	"github.com/abelzeko/reservoir-wrangler/internal/integration/openai"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/abelzeko/reservoir-wrangler/internal/usecases"
	"github.com/spf13/cobra"
)

// errMissingToken is returned when TELEGRAM_BOT_TOKEN is not set.
var errMissingToken = errors.New("TELEGRAM_BOT_TOKEN environment variable is not set")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newBotCommand().ExecuteContext(ctx); err != nil {
		slog.Error("Bot failed", "error", err)
		os.Exit(1)
	}
}

func newBotCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "bot",
		Short:        "Telegram bot answering questions about scraped reservoirs",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.New(), configFile)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
			slog.Info("Starting Reservoir Bot...")

			useCase, err := newUseCase(cfg)
			if err != nil {
				return err
			}

			botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
			if botToken == "" {
				return errMissingToken
			}

			telegramBot, err := api.NewTelegramBot(botToken, useCase)
			if err != nil {
				return err
			}
			telegramBot.Start(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (default ./config.json when present)")
	return cmd
}

// newUseCase opens the scraper's store. Free-text queries are answered only
// when OPENAI_API_KEY is set.
func newUseCase(cfg *config.Config) (*usecases.ReservoirUseCase, error) {
	store, err := repository.NewSQLiteStore(filepath.Join(cfg.Dir, cfg.DBFile))
	if err != nil {
		return nil, err
	}

	openAIService, err := openai.NewOpenAIService()
	if err != nil {
		if !errors.Is(err, openai.ErrMissingAPIKey) {
			return nil, err
		}
		slog.Warn("Free-text queries disabled", "reason", err)
		return usecases.NewReservoirUseCase(store, nil), nil
	}
	return usecases.NewReservoirUseCase(store, openAIService), nil
}
