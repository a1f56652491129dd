package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	"github.com/abelzeko/reservoir-wrangler/internal/integration/openai"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterpreter returns a canned agent response and records its input.
type fakeInterpreter struct {
	resp       *openai.AgentResponse
	err        error
	reservoirs []string
}

func (f *fakeInterpreter) InterpretUserQuery(_ context.Context, _ string, reservoirs []string) (*openai.AgentResponse, error) {
	f.reservoirs = reservoirs
	return f.resp, f.err
}

// seededStore persists one system with two reservoirs and their history.
func seededStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	p, err := repository.NewPersister(t.TempDir(), "sar.db", repository.Formats{SQLite: true}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Persist(ctx, repository.Table{
		Kind:    repository.KindSystems,
		Name:    "systems",
		Columns: []string{"name", "address"},
		Rows:    [][]string{{"cantareira", "https://sar.example/c"}},
	}))
	require.NoError(t, p.Persist(ctx, repository.Table{
		Kind:    repository.KindReservoirs,
		Name:    "reservoirs_cantareira",
		Columns: []string{"code", "name", "address", "system"},
		Rows: [][]string{
			{"1", "jaguari_jacarei", "https://sar.example/h/1", "cantareira"},
			{"2", "cachoeira", "https://sar.example/h/2", "cantareira"},
		},
	}))

	cols := append(entities.Columns(entities.KindCantareira), entities.ReservoirColumn)
	require.NoError(t, p.Persist(ctx, repository.Table{
		Kind:    repository.HistoryKind(entities.KindCantareira),
		Name:    "jaguari_jacarei",
		Columns: cols,
		Rows: [][]string{
			{"01/06/2024", "830,10", "40,20", "10,00", "12,00", "3,0", "jaguari_jacarei"},
			{"02/06/2024", "830,25", "40,90", "11,00", "12,50", "0,0", "jaguari_jacarei"},
		},
	}))
	return p.Store()
}

func TestReservoirUseCase_Queries(t *testing.T) {
	ctx := context.Background()
	uc := NewReservoirUseCase(seededStore(t), nil)

	systems, err := uc.GetAvailableSystems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cantareira"}, systems)

	reservoirs, err := uc.GetReservoirs(ctx, "Cantareira")
	require.NoError(t, err)
	assert.Equal(t, []string{"cachoeira", "jaguari_jacarei"}, reservoirs)

	latest, err := uc.GetLatestHistory(ctx, "Jaguari/Jacareí")
	require.NoError(t, err, "raw names should be normalized before lookup")
	require.NotNil(t, latest)
	assert.Equal(t, entities.KindCantareira, latest.Kind)
	assert.Equal(t, "02/06/2024", latest.Values[0])

	missing, err := uc.GetLatestHistory(ctx, "cachoeira")
	require.NoError(t, err)
	assert.Nil(t, missing)

	lastUpdate, err := uc.GetLastUpdateTime()
	require.NoError(t, err)
	assert.False(t, lastUpdate.IsZero())
}

func TestReservoirUseCase_Replies(t *testing.T) {
	ctx := context.Background()
	uc := NewReservoirUseCase(seededStore(t), nil)

	systems := uc.SystemsReply(ctx)
	assert.Contains(t, systems, "• cantareira")
	assert.Contains(t, systems, "Last update")

	assert.Contains(t, uc.ReservoirsReply(ctx, "cantareira"), "• jaguari_jacarei")
	assert.Contains(t, uc.ReservoirsReply(ctx, "pantanal"), "No reservoirs found")
	assert.Contains(t, uc.ReservoirsReply(ctx, " "), "Please specify a system")

	reply := uc.ReservoirReply(ctx, "jaguari jacarei")
	assert.Contains(t, reply, "Latest measurement for jaguari_jacarei (cantareira)")
	assert.Contains(t, reply, "📅 Date: 02/06/2024")
	assert.Contains(t, reply, "💧 Level (m): 830,25")
	assert.Contains(t, reply, "🌧️ Rainfall (mm): 0,0")

	assert.Contains(t, uc.ReservoirReply(ctx, "cachoeira"), "No information found")
	assert.Contains(t, uc.ReservoirReply(ctx, ""), "Please specify a reservoir")
}

func TestReservoirUseCase_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store, err := repository.NewSQLiteStore(t.TempDir() + "/empty.db")
	require.NoError(t, err)
	uc := NewReservoirUseCase(store, nil)

	assert.Equal(t, "No systems have been scraped yet.", uc.SystemsReply(ctx))
	lastUpdate, err := uc.GetLastUpdateTime()
	require.NoError(t, err)
	assert.True(t, lastUpdate.IsZero())
}

func TestFormatReservoirInfo_Nil(t *testing.T) {
	uc := NewReservoirUseCase(nil, nil)
	assert.Equal(t, "No information available for this reservoir.", uc.FormatReservoirInfo(nil))
}

func TestHandleNaturalLanguageQuery(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	tests := []struct {
		name     string
		resp     *openai.AgentResponse
		err      error
		contains []string
	}{
		{
			name:     "latest history",
			resp:     &openai.AgentResponse{CommandName: openai.CommandLatestHistory, ReservoirName: "jaguari_jacarei", UserMessage: "Buscando Jaguari."},
			contains: []string{"Buscando Jaguari.", "830,25"},
		},
		{
			name:     "reservoir not identified",
			resp:     &openai.AgentResponse{CommandName: openai.CommandLatestHistory, UserMessage: "Qual reservatório?"},
			contains: []string{"Qual reservatório?"},
		},
		{
			name:     "list systems",
			resp:     &openai.AgentResponse{CommandName: openai.CommandListSystems, UserMessage: "Aqui estão."},
			contains: []string{"Aqui estão.", "• cantareira"},
		},
		{
			name:     "general query",
			resp:     &openai.AgentResponse{CommandName: openai.CommandGeneralQuery, UserMessage: "Olá!"},
			contains: []string{"Olá!"},
		},
		{
			name:     "unexpected command",
			resp:     &openai.AgentResponse{CommandName: "Dance"},
			contains: []string{"/help"},
		},
		{
			name:     "service failure",
			err:      errors.New("timeout"),
			contains: []string{"trouble understanding"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &fakeInterpreter{resp: tt.resp, err: tt.err}
			uc := NewReservoirUseCase(store, agent)

			reply, err := uc.HandleNaturalLanguageQuery(ctx, "como está o jaguari?")
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, reply, s)
			}
			assert.Equal(t, []string{"cachoeira", "jaguari_jacarei"}, agent.reservoirs)
		})
	}
}

func TestHandleNaturalLanguageQuery_WithoutService(t *testing.T) {
	uc := NewReservoirUseCase(seededStore(t), nil)
	reply, err := uc.HandleNaturalLanguageQuery(context.Background(), "oi")
	require.NoError(t, err)
	assert.Contains(t, reply, "/help")
}
