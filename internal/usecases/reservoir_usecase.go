package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	"github.com/abelzeko/reservoir-wrangler/internal/integration/openai"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
)

// ReservoirStore reads what previous runs persisted.
type ReservoirStore interface {
	GetSystems(ctx context.Context) ([]string, error)
	GetReservoirs(ctx context.Context, system string) ([]string, error)
	GetAllReservoirs(ctx context.Context) ([]string, error)
	GetLatestHistory(ctx context.Context, reservoir string) (*repository.HistoryRecord, error)
	LastUpdate() (time.Time, error)
}

// ReservoirUseCase answers questions about scraped reservoirs
type ReservoirUseCase struct {
	store         ReservoirStore
	openAIService openai.OpenAIService
}

// NewReservoirUseCase creates a new reservoir use case. openAIService may be
// nil, in which case free-text queries get the help text.
func NewReservoirUseCase(store ReservoirStore, openAIService openai.OpenAIService) *ReservoirUseCase {
	return &ReservoirUseCase{
		store:         store,
		openAIService: openAIService,
	}
}

// GetAvailableSystems returns the stored system names
func (uc *ReservoirUseCase) GetAvailableSystems(ctx context.Context) ([]string, error) {
	slog.Debug("Retrieving list of available systems")
	return uc.store.GetSystems(ctx)
}

// GetReservoirs returns the reservoir names of a system, given in any spelling
func (uc *ReservoirUseCase) GetReservoirs(ctx context.Context, system string) ([]string, error) {
	name, err := entities.Normalize(system)
	if err != nil {
		return nil, err
	}
	slog.Debug("Retrieving reservoirs", "system", name)
	return uc.store.GetReservoirs(ctx, name)
}

// GetLatestHistory returns the newest stored row of a reservoir, or nil.
func (uc *ReservoirUseCase) GetLatestHistory(ctx context.Context, reservoir string) (*repository.HistoryRecord, error) {
	name, err := entities.Normalize(reservoir)
	if err != nil {
		return nil, err
	}
	slog.Debug("Retrieving latest history", "reservoir", name)
	return uc.store.GetLatestHistory(ctx, name)
}

// GetLastUpdateTime returns when the store was last written.
func (uc *ReservoirUseCase) GetLastUpdateTime() (time.Time, error) {
	return uc.store.LastUpdate()
}

// SystemsReply lists the monitored systems.
func (uc *ReservoirUseCase) SystemsReply(ctx context.Context) string {
	systems, err := uc.GetAvailableSystems(ctx)
	if err != nil {
		slog.Error("Error fetching systems", "error", err)
		return "Error fetching reservoir data. Please try again later."
	}
	if len(systems) == 0 {
		return "No systems have been scraped yet."
	}

	var b strings.Builder
	b.WriteString("Monitored systems:\n\n")
	for _, s := range systems {
		b.WriteString("• " + s + "\n")
	}
	b.WriteString("\nUse /reservoirs [system] to list its reservoirs.")
	uc.writeLastUpdate(&b)
	return b.String()
}

// ReservoirsReply lists the reservoirs of a system.
func (uc *ReservoirUseCase) ReservoirsReply(ctx context.Context, system string) string {
	if strings.TrimSpace(system) == "" {
		return "Please specify a system. Example: /reservoirs cantareira"
	}

	reservoirs, err := uc.GetReservoirs(ctx, system)
	if err != nil {
		slog.Error("Error fetching reservoirs", "system", system, "error", err)
		return "Error fetching reservoir data. Please try again later."
	}
	if len(reservoirs) == 0 {
		return fmt.Sprintf("No reservoirs found for system '%s'. Use /systems to see the available systems.", system)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reservoirs of %s:\n\n", entities.MustNormalize(system))
	for _, r := range reservoirs {
		b.WriteString("• " + r + "\n")
	}
	b.WriteString("\nUse /reservoir [name] to get the latest measurement.")
	return b.String()
}

// ReservoirReply shows the latest measurement of a reservoir.
func (uc *ReservoirUseCase) ReservoirReply(ctx context.Context, reservoir string) string {
	if strings.TrimSpace(reservoir) == "" {
		return "Please specify a reservoir name. Example: /reservoir Jaguari/Jacareí"
	}

	record, err := uc.GetLatestHistory(ctx, reservoir)
	if err != nil {
		slog.Error("Error fetching reservoir history", "reservoir", reservoir, "error", err)
		return "Error fetching reservoir data. Please try again later."
	}
	if record == nil {
		return fmt.Sprintf("No information found for reservoir '%s'. Use /reservoirs [system] to see the available reservoirs.", reservoir)
	}

	var b strings.Builder
	b.WriteString(uc.FormatReservoirInfo(record))
	uc.writeLastUpdate(&b)
	return b.String()
}

func (uc *ReservoirUseCase) writeLastUpdate(b *strings.Builder) {
	lastUpdate, err := uc.GetLastUpdateTime()
	if err != nil || lastUpdate.IsZero() {
		return
	}
	fmt.Fprintf(b, "\n\n🕒 Last update: %s", lastUpdate.Format("2006-01-02 15:04:05"))
}

var columnLabels = map[string]string{
	"date":           "📅 Date",
	"level":          "💧 Level (m)",
	"inflow":         "⬇️ Inflow (m³/s)",
	"outflow":        "⬆️ Outflow (m³/s)",
	"spillway_flow":  "🌊 Spillway flow (m³/s)",
	"turbine_flow":   "⚡ Turbine flow (m³/s)",
	"useful_volume":  "📊 Useful volume (%)",
	"capacity":       "🏞️ Capacity (hm³)",
	"volume":         "📦 Volume (hm³)",
	"volume_percent": "📊 Volume (%)",
	"rainfall":       "🌧️ Rainfall (mm)",
}

// FormatReservoirInfo formats a history record for display
func (uc *ReservoirUseCase) FormatReservoirInfo(record *repository.HistoryRecord) string {
	if record == nil {
		return "No information available for this reservoir."
	}

	name := ""
	for i, col := range record.Columns {
		if col == entities.ReservoirColumn && i < len(record.Values) {
			name = record.Values[i]
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Latest measurement for %s (%s):\n\n", name, record.Kind)
	for i, col := range record.Columns {
		if col == entities.ReservoirColumn || i >= len(record.Values) || record.Values[i] == "" {
			continue
		}
		label, ok := columnLabels[col]
		if !ok {
			label = col
		}
		fmt.Fprintf(&b, "%s: %s\n", label, record.Values[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *ReservoirUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if uc.openAIService == nil {
		return "I don't understand. Use /help to see available commands.", nil
	}
	slog.Info("Interpreting natural language query", "query", query)

	reservoirs, err := uc.store.GetAllReservoirs(ctx)
	if err != nil {
		slog.Error("Error fetching available reservoirs", "error", err)
		return "Sorry, I couldn't fetch the list of reservoirs right now.", nil
	}

	agentResp, err := uc.openAIService.InterpretUserQuery(ctx, query, reservoirs)
	if err != nil {
		slog.Error("Error interpreting user query via OpenAI", "error", err)
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	slog.Info("Agent response",
		"command", agentResp.CommandName,
		"reservoir", agentResp.ReservoirName,
		"message", agentResp.UserMessage)

	switch agentResp.CommandName {
	case openai.CommandLatestHistory:
		if agentResp.ReservoirName == "" {
			return agentResp.UserMessage, nil
		}
		return joinMessages(agentResp.UserMessage, uc.ReservoirReply(ctx, agentResp.ReservoirName)), nil
	case openai.CommandListSystems:
		return joinMessages(agentResp.UserMessage, uc.SystemsReply(ctx)), nil
	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil
	default:
		slog.Warn("Agent returned unexpected command", "command", agentResp.CommandName)
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}

func joinMessages(first, second string) string {
	if first == "" {
		return second
	}
	return first + "\n\n" + second
}
