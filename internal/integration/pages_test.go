package integration

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	"github.com/abelzeko/reservoir-wrangler/internal/integration/sartest"
	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const homeURL = "https://sar.example/sar0/Home"

var fixedNow = func() time.Time { return time.Date(2024, time.June, 30, 12, 0, 0, 0, time.UTC) }

func newTestScraper(site *sartest.Site, m *metrics.Metrics) *Scraper {
	return NewScraper(site, ScraperOptions{HomeURL: homeURL, Now: fixedNow, Metrics: m})
}

func TestFieldsFor_MatchesRowColumns(t *testing.T) {
	for _, kind := range entities.Kinds {
		fields, err := FieldsFor(kind)
		require.NoError(t, err)

		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}
		assert.Equal(t, entities.Columns(kind), names, "schema of %s should follow the row columns", kind)
	}
}

func TestFieldsFor_UnknownKind(t *testing.T) {
	_, err := FieldsFor(entities.Kind("pantanal"))
	assert.ErrorIs(t, err, ErrUnknownSystemKind)
}

func TestSystemsIndex_Scrape(t *testing.T) {
	site := sartest.NewSite()
	site.Handle(homeURL, http.StatusOK, sartest.HomePage(
		sartest.Link{Name: "SIN", Href: "MedicaoSin"},
		sartest.Link{Name: "Nordeste e Semiárido", Href: "https://sar.example/sar0/MedicaoNordeste"},
	))

	index := newTestScraper(site, nil).SystemsIndex()
	require.NoError(t, index.Scrape(context.Background()))

	assert.Equal(t, http.StatusOK, index.Status())
	require.Len(t, index.Systems(), 2)
	assert.Equal(t, entities.System{Name: "sin", Address: "https://sar.example/sar0/MedicaoSin", Kind: entities.KindSIN}, index.Systems()[0])
	assert.Equal(t, entities.KindNordeste, index.Systems()[1].Kind)

	table := index.Table()
	assert.Equal(t, repository.KindSystems, table.Kind)
	assert.Equal(t, []string{"name", "address"}, table.Columns)
	assert.Len(t, table.Rows, 2)
}

func TestIndexRelease_KeepsParsedResults(t *testing.T) {
	ctx := context.Background()
	site := sartest.NewSite()
	system := entities.System{Name: "sin", Address: "https://sar.example/sar0/MedicaoSin", Kind: entities.KindSIN}
	site.Handle(homeURL, http.StatusOK, sartest.HomePage(sartest.Link{Name: "SIN", Href: "MedicaoSin"}))
	site.Handle(system.Address, http.StatusOK, sartest.ReservoirIndexPage(sartest.Option{Code: "19086", Name: "Furnas"}))
	scraper := newTestScraper(site, nil)

	systems := scraper.SystemsIndex()
	require.NoError(t, systems.Scrape(ctx))
	require.NotEmpty(t, systems.content)
	systems.Release()
	assert.Nil(t, systems.content)
	assert.Equal(t, []entities.System{system}, systems.Systems())
	assert.Len(t, systems.Table().Rows, 1)

	reservoirs := scraper.ReservoirIndex(system)
	require.NoError(t, reservoirs.Scrape(ctx))
	require.NotEmpty(t, reservoirs.content)
	reservoirs.Release()
	assert.Nil(t, reservoirs.content)
	require.Len(t, reservoirs.Reservoirs(), 1)
	assert.Equal(t, "furnas", reservoirs.Reservoirs()[0].Name)
}

func TestSystemsIndex_EmptyNameFails(t *testing.T) {
	site := sartest.NewSite()
	site.Handle(homeURL, http.StatusOK, sartest.HomePage(sartest.Link{Name: "  ", Href: "x"}))

	err := newTestScraper(site, nil).SystemsIndex().Scrape(context.Background())
	assert.ErrorIs(t, err, entities.ErrEmptyInput)
}

func TestReservoirIndex_Scrape(t *testing.T) {
	site := sartest.NewSite()
	system := entities.System{Name: "cantareira", Address: "https://sar.example/sar0/MedicaoCantareira", Kind: entities.KindCantareira}
	site.Handle(system.Address, http.StatusOK, sartest.ReservoirIndexPage(
		sartest.Option{Code: "0012", Name: "Jaguari/Jacareí"},
		sartest.Option{Code: "0013", Name: "Cachoeira"},
		sartest.Option{Code: "0014", Name: "Atibainha"},
	))

	index := newTestScraper(site, nil).ReservoirIndex(system)
	require.NoError(t, index.Scrape(context.Background()))

	reservoirs := index.Reservoirs()
	require.Len(t, reservoirs, 3)
	assert.Equal(t, "0012", reservoirs[0].Code, "codes should stay opaque strings")
	assert.Equal(t, "jaguari_jacarei", reservoirs[0].Name)
	assert.Equal(t, "cantareira", reservoirs[0].System)

	u, err := url.Parse(reservoirs[0].Address)
	require.NoError(t, err)
	assert.Equal(t, "30/06/2024", u.Query().Get("dataFinal"))
	assert.Equal(t, DefaultStartDate, u.Query().Get("dataInicial"))

	table := index.Table()
	assert.Equal(t, "reservoirs_cantareira", table.Name)
	assert.Equal(t, []string{"code", "name", "address", "system"}, table.Columns)
	assert.Len(t, table.Rows, 3)
}

func TestReservoirHistory_ParsesEveryKind(t *testing.T) {
	for _, kind := range entities.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			site := sartest.NewSite()
			res := entities.Reservoir{Code: "1", Name: "furnas", Address: "https://sar.example/h/" + string(kind), System: string(kind), Kind: kind}
			site.Handle(res.Address, http.StatusOK, sartest.HistoryPage(kind, 5))

			history, err := newTestScraper(site, nil).ReservoirHistory(res)
			require.NoError(t, err)
			require.NoError(t, history.Scrape(context.Background()))

			rows := history.Rows()
			require.Len(t, rows, 5)
			cols := entities.Columns(kind)
			for i, row := range rows {
				assert.Equal(t, kind, row.Kind())
				values := row.Values()
				require.Len(t, values, len(cols)+1)
				for j, col := range cols {
					assert.Equal(t, sartest.HistoryValue(col, i), values[j], "row %d column %s", i, col)
				}
				assert.Equal(t, "furnas", values[len(cols)])
			}

			table := history.Table()
			assert.Equal(t, "history_"+string(kind), table.Kind)
			assert.Equal(t, append(cols, entities.ReservoirColumn), table.Columns)
			assert.NoError(t, table.Validate())

			history.Release()
			assert.Empty(t, history.Rows())
			assert.Empty(t, history.Table().Rows)
		})
	}
}

func TestReservoirHistory_UnknownKind(t *testing.T) {
	res := entities.Reservoir{Name: "x", Kind: entities.Kind("pantanal")}
	_, err := newTestScraper(sartest.NewSite(), nil).ReservoirHistory(res)
	assert.ErrorIs(t, err, ErrUnknownSystemKind)
}

func TestScrape_NonOKLeavesRowsEmpty(t *testing.T) {
	site := sartest.NewSite()
	res := entities.Reservoir{Name: "furnas", Address: "https://sar.example/h/404", Kind: entities.KindSIN}

	history, err := newTestScraper(site, nil).ReservoirHistory(res)
	require.NoError(t, err)

	require.NoError(t, history.Scrape(context.Background()))
	assert.Equal(t, http.StatusNotFound, history.Status())
	assert.Empty(t, history.Rows())
	assert.Empty(t, history.Table().Rows)
}

func TestScrape_TransportFailureIsContained(t *testing.T) {
	site := sartest.NewSite()
	site.Fail(homeURL)

	index := newTestScraper(site, nil).SystemsIndex()
	require.NoError(t, index.Scrape(context.Background()))
	assert.Zero(t, index.Status())
	assert.Empty(t, index.Systems())
}

func TestScrape_CancelledContextIsReturned(t *testing.T) {
	site := sartest.NewSite()
	site.Latency = time.Second
	site.Handle(homeURL, http.StatusOK, sartest.HomePage())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestScraper(site, nil).SystemsIndex().Scrape(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReservoirHistory_RaggedExtractionTruncates(t *testing.T) {
	site := sartest.NewSite()
	res := entities.Reservoir{Name: "orós", Address: "https://sar.example/h/ragged", Kind: entities.KindNordeste}
	// the third line misses its date cell
	site.Handle(res.Address, http.StatusOK, `<table id="tabelaMedicoes"><tbody>
<tr><td>1</td><td>A</td><td>10</td><td>11</td><td>12</td><td>13</td><td>01/01/2024</td></tr>
<tr><td>1</td><td>A</td><td>20</td><td>21</td><td>22</td><td>23</td><td>02/01/2024</td></tr>
<tr><td>1</td><td>A</td><td>30</td><td>31</td><td>32</td><td>33</td></tr>
</tbody></table>`)

	m := metrics.New()
	history, err := newTestScraper(site, m).ReservoirHistory(res)
	require.NoError(t, err)
	require.NoError(t, history.Scrape(context.Background()))

	require.Len(t, history.Rows(), 2, "rows should be cut to the shortest field")
	assert.Equal(t, []string{"01/01/2024", "10", "11", "12", "13", "orós"}, history.Rows()[0].Values())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TruncatedExtractions.WithLabelValues(string(entities.KindNordeste))))
}
