package api

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

type stubResponder struct {
	query    string
	queryErr error
}

func (s *stubResponder) SystemsReply(context.Context) string { return "systems" }

func (s *stubResponder) ReservoirsReply(_ context.Context, system string) string {
	return "reservoirs of " + system
}

func (s *stubResponder) ReservoirReply(_ context.Context, reservoir string) string {
	return "latest of " + reservoir
}

func (s *stubResponder) HandleNaturalLanguageQuery(_ context.Context, query string) (string, error) {
	s.query = query
	return "agent: " + query, s.queryErr
}

// command builds a message the way Telegram delivers a bot command.
func command(text string, length int) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 42},
		From:     &tgbotapi.User{UserName: "tester"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}
}

func TestRespond_Commands(t *testing.T) {
	bot := &TelegramBot{useCase: &stubResponder{}}
	ctx := context.Background()

	assert.Contains(t, bot.respond(ctx, command("/start", 6)), "/systems")
	assert.Equal(t, helpText, bot.respond(ctx, command("/help", 5)))
	assert.Equal(t, "systems", bot.respond(ctx, command("/systems", 8)))
	assert.Equal(t, "reservoirs of cantareira", bot.respond(ctx, command("/reservoirs cantareira", 11)))
	assert.Equal(t, "latest of Jaguari/Jacareí", bot.respond(ctx, command("/reservoir Jaguari/Jacareí", 10)))
	assert.Contains(t, bot.respond(ctx, command("/fish", 5)), "Unknown command")
}

func TestRespond_FreeText(t *testing.T) {
	responder := &stubResponder{}
	bot := &TelegramBot{useCase: responder}

	msg := &tgbotapi.Message{Text: "how full is furnas?", Chat: &tgbotapi.Chat{ID: 1}}
	assert.Equal(t, "agent: how full is furnas?", bot.respond(context.Background(), msg))
	assert.Equal(t, "how full is furnas?", responder.query)

	responder.queryErr = errors.New("boom")
	assert.Contains(t, bot.respond(context.Background(), msg), "/help")
}
