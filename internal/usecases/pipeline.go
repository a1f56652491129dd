// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	"github.com/abelzeko/reservoir-wrangler/internal/integration"
	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Persister stores the table of one entity.
type Persister interface {
	Persist(ctx context.Context, t repository.Table) error
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID       string
	Systems     int
	Reservoirs  int
	HistoryRows int
	FailedPages int // pages that did not answer 200
	Elapsed     time.Duration
}

// Pipeline scrapes systems, then their reservoirs, then every reservoir's
// history, persisting each entity as soon as it is parsed.
type Pipeline struct {
	scraper   *integration.Scraper
	persister Persister
	workers   int
	metrics   *metrics.Metrics
	shuffle   func(n int, swap func(i, j int))
}

// NewPipeline creates a pipeline running at most workers history tasks at once.
func NewPipeline(scraper *integration.Scraper, persister Persister, workers int, m *metrics.Metrics) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		scraper:   scraper,
		persister: persister,
		workers:   workers,
		metrics:   m,
		shuffle:   rand.Shuffle,
	}
}

type runCounters struct {
	reservoirs  atomic.Int64
	historyRows atomic.Int64
	failedPages atomic.Int64
}

func (c *runCounters) observe(e integration.Entity) {
	if e.Status() != http.StatusOK {
		c.failedPages.Add(1)
	}
}

// Run performs one complete scrape. Pages that cannot be fetched are
// skipped; any other error stops the run and is returned.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	logger := slog.With("run_id", report.RunID)
	start := time.Now()
	logger.Info("Starting scrape run", "history_workers", p.workers)

	var counters runCounters
	err := p.run(ctx, logger, report, &counters)

	report.Reservoirs = int(counters.reservoirs.Load())
	report.HistoryRows = int(counters.historyRows.Load())
	report.FailedPages = int(counters.failedPages.Load())
	report.Elapsed = time.Since(start)
	p.metrics.RunFinished(report.Elapsed.Seconds(), err)

	if err != nil {
		logger.Error("Scrape run failed", "error", err, "elapsed", report.Elapsed.Round(time.Millisecond))
		return report, err
	}

	logger.Info("Scrape run finished",
		"started", start.Format(time.RFC3339),
		"finished", time.Now().Format(time.RFC3339),
		"elapsed", report.Elapsed.Round(time.Millisecond),
		"systems", report.Systems,
		"reservoirs", report.Reservoirs,
		"history_rows", report.HistoryRows,
		"failed_pages", report.FailedPages)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, report *RunReport, counters *runCounters) error {
	systems, err := p.scrapeSystems(ctx, counters)
	if err != nil {
		return fmt.Errorf("systems stage: %w", err)
	}
	report.Systems = len(systems)
	logger.Info("Systems stage done", "systems", len(systems))

	reservoirs, err := p.scrapeReservoirs(ctx, systems, counters)
	if err != nil {
		return fmt.Errorf("reservoirs stage: %w", err)
	}
	logger.Info("Reservoirs stage done", "reservoirs", len(reservoirs))

	if err := p.scrapeHistories(ctx, reservoirs, counters); err != nil {
		return fmt.Errorf("history stage: %w", err)
	}
	return nil
}

// scrapeSystems fetches the home page synchronously.
func (p *Pipeline) scrapeSystems(ctx context.Context, counters *runCounters) ([]entities.System, error) {
	index := p.scraper.SystemsIndex()
	defer index.Release()
	if err := index.Scrape(ctx); err != nil {
		return nil, err
	}
	counters.observe(index)

	if err := p.persister.Persist(ctx, index.Table()); err != nil {
		return nil, err
	}
	return index.Systems(), nil
}

// scrapeReservoirs runs one task per system; the system count is small so
// no limit is applied.
func (p *Pipeline) scrapeReservoirs(ctx context.Context, systems []entities.System, counters *runCounters) ([]entities.Reservoir, error) {
	systems = append([]entities.System(nil), systems...)
	p.shuffle(len(systems), func(i, j int) { systems[i], systems[j] = systems[j], systems[i] })

	found := make([][]entities.Reservoir, len(systems))
	g, gctx := errgroup.WithContext(ctx)
	for i, system := range systems {
		i, system := i, system
		g.Go(func() error {
			index := p.scraper.ReservoirIndex(system)
			defer index.Release()
			if err := index.Scrape(gctx); err != nil {
				return err
			}
			counters.observe(index)

			if err := p.persister.Persist(gctx, index.Table()); err != nil {
				return err
			}
			found[i] = index.Reservoirs()
			counters.reservoirs.Add(int64(len(found[i])))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var reservoirs []entities.Reservoir
	for _, rs := range found {
		reservoirs = append(reservoirs, rs...)
	}
	return reservoirs, nil
}

// scrapeHistories runs at most p.workers history tasks at once. A task only
// builds its page once it holds a slot, so at most p.workers pages are in
// memory. It waits for every task.
func (p *Pipeline) scrapeHistories(ctx context.Context, reservoirs []entities.Reservoir, counters *runCounters) error {
	reservoirs = append([]entities.Reservoir(nil), reservoirs...)
	p.shuffle(len(reservoirs), func(i, j int) { reservoirs[i], reservoirs[j] = reservoirs[j], reservoirs[i] })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, res := range reservoirs {
		if gctx.Err() != nil {
			break
		}
		res := res
		g.Go(func() error {
			defer p.metrics.TrackHistory()()
			return p.scrapeHistory(gctx, res, counters)
		})
	}
	return g.Wait()
}

func (p *Pipeline) scrapeHistory(ctx context.Context, res entities.Reservoir, counters *runCounters) error {
	history, err := p.scraper.ReservoirHistory(res)
	if err != nil {
		return err
	}
	defer history.Release()

	if err := history.Scrape(ctx); err != nil {
		return err
	}
	counters.observe(history)

	table := history.Table()
	if err := p.persister.Persist(ctx, table); err != nil {
		return err
	}
	counters.historyRows.Add(int64(len(table.Rows)))
	return nil
}
