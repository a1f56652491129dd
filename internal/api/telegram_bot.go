// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Responder builds the replies of the bot.
type Responder interface {
	SystemsReply(ctx context.Context) string
	ReservoirsReply(ctx context.Context, system string) string
	ReservoirReply(ctx context.Context, reservoir string) string
	HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error)
}

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/systems - Show the monitored systems\n" +
	"/reservoirs [system] - Show the reservoirs of a system\n" +
	"/reservoir [name] - Show the latest measurement of a reservoir\n" +
	"/help - Show this help message\n\n" +
	"You can also just ask, e.g. \"how full is Cantareira?\""

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	useCase Responder
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, useCase Responder) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:     bot,
		useCase: useCase,
	}, nil
}

// Start listens for messages until ctx is done.
func (t *TelegramBot) Start(ctx context.Context) {
	slog.Info("Authorized on Telegram account", "username", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()
	slog.Info("Bot is now listening for messages")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot stopped", "reason", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			t.handleMessage(ctx, update.Message)
		}
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	slog.Info("Received message", "user", userName(message), "chat_id", message.Chat.ID, "text", message.Text)

	msg := tgbotapi.NewMessage(message.Chat.ID, t.respond(ctx, message))
	if _, err := t.bot.Send(msg); err != nil {
		slog.Error("Error sending message", "chat_id", message.Chat.ID, "error", err)
	}
}

// respond returns the reply text for a message.
func (t *TelegramBot) respond(ctx context.Context, message *tgbotapi.Message) string {
	if !message.IsCommand() {
		reply, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
		if err != nil {
			slog.Error("Error handling query", "error", err)
			return "I don't understand. Use /help to see available commands."
		}
		return reply
	}

	args := message.CommandArguments()
	slog.Debug("Handling command", "command", message.Command(), "args", args, "user", userName(message))

	switch message.Command() {
	case "start":
		return "Welcome to the Reservoir Bot! Use /systems to see the monitored systems or /help for more information."
	case "help":
		return helpText
	case "systems":
		return t.useCase.SystemsReply(ctx)
	case "reservoirs":
		return t.useCase.ReservoirsReply(ctx, args)
	case "reservoir":
		return t.useCase.ReservoirReply(ctx, args)
	default:
		slog.Info("Received unknown command", "command", message.Command(), "user", userName(message))
		return "Unknown command. Use /help to see available commands."
	}
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.UserName
}
