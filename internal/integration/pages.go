package integration

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
)

// DefaultHomeURL is the monitoring site's page listing the systems
const DefaultHomeURL = "https://www.ana.gov.br/sar0/Home"

// DefaultStartDate opens the history range before any published measurement
const DefaultStartDate = "01/01/1980"

// Entity is a scrapeable page-backed record.
type Entity interface {
	Name() string
	Address() string
	Status() int
	// Fetch records the page's status and content. Transport failures are
	// logged and leave status 0; only context cancellation is returned.
	Fetch(ctx context.Context) error
	// Parse turns the fetched content into rows.
	Parse() error
	// Scrape fetches and parses only when the page answered 200.
	Scrape(ctx context.Context) error
	Table() repository.Table
	// Release drops what the entity no longer needs once persisted.
	Release()
}

// Scraper creates the pages of one site and hands them the shared Getter.
type Scraper struct {
	homeURL   string
	getter    Getter
	startDate string
	now       func() time.Time
	metrics   *metrics.Metrics
}

// ScraperOptions holds optional Scraper settings
type ScraperOptions struct {
	HomeURL   string
	StartDate string
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// NewScraper creates a Scraper fetching through getter.
func NewScraper(getter Getter, opts ScraperOptions) *Scraper {
	if opts.HomeURL == "" {
		opts.HomeURL = DefaultHomeURL
	}
	if opts.StartDate == "" {
		opts.StartDate = DefaultStartDate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scraper{
		homeURL:   opts.HomeURL,
		getter:    getter,
		startDate: opts.StartDate,
		now:       opts.Now,
		metrics:   opts.Metrics,
	}
}

// page holds what every entity shares: identity, address and fetch result.
type page struct {
	name    string
	address string
	getter  Getter
	status  int
	content []byte
}

// Name identifies the entity in file names and logs.
func (p *page) Name() string { return p.name }

// Address is the page's URL.
func (p *page) Address() string { return p.address }

// Status is the HTTP status of the last fetch, 0 on transport failure.
func (p *page) Status() int { return p.status }

// Release drops the fetched page body. Parsed results are kept.
func (p *page) Release() { p.content = nil }

// Fetch records the page's status and content. Transport failures are logged
// and leave status 0; only context cancellation is returned.
func (p *page) Fetch(ctx context.Context) error {
	status, body, err := p.getter.Get(ctx, p.address)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Fetch failed", "entity", p.name, "url", p.address, "error", err)
		p.status, p.content = 0, nil
		return nil
	}
	p.status, p.content = status, body
	return nil
}

func (p *page) scrape(ctx context.Context, parse func() error) error {
	if err := p.Fetch(ctx); err != nil {
		return err
	}
	if p.status != http.StatusOK {
		slog.Warn("Skipping parse of unavailable page", "entity", p.name, "status", p.status)
		return nil
	}
	slog.Info("Parsing page", "entity", p.name)
	return parse()
}

func (p *page) document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.name, err)
	}
	return doc, nil
}

// extract reads every field in document order and transposes the field-major
// matches into rows. Fields with more matches than the shortest are cut and
// reported through truncated.
func extract(doc *goquery.Document, fields []Field) (rows [][]string, truncated bool) {
	columns := make([][]string, len(fields))
	for i, f := range fields {
		doc.Find(f.Selector.CSS).Each(func(_ int, s *goquery.Selection) {
			var value string
			if f.Selector.Attr != "" {
				value = s.AttrOr(f.Selector.Attr, "")
			} else {
				value = s.Text()
			}
			columns[i] = append(columns[i], strings.TrimSpace(value))
		})
	}

	n := -1
	for _, col := range columns {
		if n >= 0 && len(col) != n {
			truncated = true
		}
		if n < 0 || len(col) < n {
			n = len(col)
		}
	}
	if n <= 0 {
		return nil, truncated
	}

	rows = make([][]string, n)
	for r := range rows {
		row := make([]string, len(fields))
		for c := range fields {
			row[c] = columns[c][r]
		}
		rows[r] = row
	}
	return rows, truncated
}

func (s *Scraper) reportTruncation(entity, kind string, fields []Field, doc *goquery.Document) {
	counts := make([]string, len(fields))
	for i, f := range fields {
		counts[i] = fmt.Sprintf("%s=%d", f.Name, doc.Find(f.Selector.CSS).Length())
	}
	slog.Warn("Field match counts differ, truncating to the shortest",
		"entity", entity, "kind", kind, "counts", strings.Join(counts, ","))
	s.metrics.Truncated(kind)
}

// SystemsIndex is the home page listing the systems.
type SystemsIndex struct {
	page
	scraper *Scraper
	systems []entities.System
}

// SystemsIndex creates the systems index entity for the home page.
func (s *Scraper) SystemsIndex() *SystemsIndex {
	return &SystemsIndex{
		page:    page{name: repository.KindSystems, address: s.homeURL, getter: s.getter},
		scraper: s,
	}
}

// Scrape fetches the home page and parses its system links.
func (si *SystemsIndex) Scrape(ctx context.Context) error {
	return si.scrape(ctx, si.Parse)
}

// Parse builds one System per link. Relative links are resolved against
// the home page address.
func (si *SystemsIndex) Parse() error {
	doc, err := si.document()
	if err != nil {
		return err
	}

	base, err := url.Parse(si.address)
	if err != nil {
		return fmt.Errorf("invalid home address %q: %w", si.address, err)
	}

	rows, truncated := extract(doc, SystemsIndexSchema)
	if truncated {
		si.scraper.reportTruncation(si.name, repository.KindSystems, SystemsIndexSchema, doc)
	}

	systems := make([]entities.System, 0, len(rows))
	for _, row := range rows {
		ref, err := url.Parse(row[1])
		if err != nil {
			return fmt.Errorf("invalid address of system %q: %w", row[0], err)
		}
		system, err := entities.NewSystem(row[0], base.ResolveReference(ref).String())
		if err != nil {
			return err
		}
		systems = append(systems, system)
	}

	si.systems = systems
	slog.Info("Found systems", "count", len(systems))
	return nil
}

// Systems returns the parsed systems.
func (si *SystemsIndex) Systems() []entities.System {
	return si.systems
}

// Table lists the systems as name and address rows.
func (si *SystemsIndex) Table() repository.Table {
	t := repository.Table{
		Kind:    repository.KindSystems,
		Name:    si.name,
		Columns: []string{"name", "address"},
	}
	for _, s := range si.systems {
		t.Rows = append(t.Rows, []string{s.Name, s.Address})
	}
	return t
}

// ReservoirIndex is a system page listing its reservoirs.
type ReservoirIndex struct {
	page
	scraper    *Scraper
	system     entities.System
	reservoirs []entities.Reservoir
}

// ReservoirIndex creates the reservoir index entity of a system.
func (s *Scraper) ReservoirIndex(system entities.System) *ReservoirIndex {
	return &ReservoirIndex{
		page: page{
			name:    repository.KindReservoirs + "_" + system.Name,
			address: system.Address,
			getter:  s.getter,
		},
		scraper: s,
		system:  system,
	}
}

// Scrape fetches the system page and parses its reservoir options.
func (ri *ReservoirIndex) Scrape(ctx context.Context) error {
	return ri.scrape(ctx, ri.Parse)
}

// Parse builds one Reservoir per dropdown option, with a history address
// ending today.
func (ri *ReservoirIndex) Parse() error {
	doc, err := ri.document()
	if err != nil {
		return err
	}

	rows, truncated := extract(doc, ReservoirIndexSchema)
	if truncated {
		ri.scraper.reportTruncation(ri.name, repository.KindReservoirs, ReservoirIndexSchema, doc)
	}

	today := ri.scraper.now()
	reservoirs := make([]entities.Reservoir, 0, len(rows))
	for _, row := range rows {
		res, err := entities.NewReservoir(ri.system, row[0], row[1], ri.scraper.startDate, today)
		if err != nil {
			return err
		}
		reservoirs = append(reservoirs, res)
	}

	ri.reservoirs = reservoirs
	slog.Info("Found reservoirs", "system", ri.system.Name, "count", len(reservoirs))
	return nil
}

// Reservoirs returns the parsed reservoirs.
func (ri *ReservoirIndex) Reservoirs() []entities.Reservoir {
	return ri.reservoirs
}

// Table lists the system's reservoirs, one row per reservoir.
func (ri *ReservoirIndex) Table() repository.Table {
	t := repository.Table{
		Kind:    repository.KindReservoirs,
		Name:    ri.name,
		Columns: []string{"code", "name", "address", "system"},
	}
	for _, r := range ri.reservoirs {
		t.Rows = append(t.Rows, []string{r.Code, r.Name, r.Address, r.System})
	}
	return t
}

// ReservoirHistory is the measurement history page of one reservoir.
type ReservoirHistory struct {
	page
	scraper   *Scraper
	reservoir entities.Reservoir
	fields    []Field
	rows      []entities.HistoryRow
}

// ReservoirHistory creates the history entity of a reservoir. It fails with
// ErrUnknownSystemKind when the reservoir's system has no schema.
func (s *Scraper) ReservoirHistory(res entities.Reservoir) (*ReservoirHistory, error) {
	fields, err := FieldsFor(res.Kind)
	if err != nil {
		return nil, fmt.Errorf("reservoir %s: %w", res.Name, err)
	}
	return &ReservoirHistory{
		page:      page{name: res.Name, address: res.Address, getter: s.getter},
		scraper:   s,
		reservoir: res,
		fields:    fields,
	}, nil
}

// Scrape fetches the history page and parses its measurement rows.
func (rh *ReservoirHistory) Scrape(ctx context.Context) error {
	return rh.scrape(ctx, rh.Parse)
}

// Parse builds the kind's row type from every table line.
func (rh *ReservoirHistory) Parse() error {
	doc, err := rh.document()
	if err != nil {
		return err
	}

	kind := string(rh.reservoir.Kind)
	rows, truncated := extract(doc, rh.fields)
	if truncated {
		rh.scraper.reportTruncation(rh.name, kind, rh.fields, doc)
	}

	history := make([]entities.HistoryRow, 0, len(rows))
	for _, values := range rows {
		row, err := entities.NewHistoryRow(rh.reservoir.Kind, values, rh.reservoir.Name)
		if err != nil {
			return fmt.Errorf("reservoir %s: %w", rh.name, err)
		}
		history = append(history, row)
	}

	rh.rows = history
	slog.Info("Parsed history", "reservoir", rh.name, "system", rh.reservoir.System, "rows", len(history))
	return nil
}

// Rows returns the parsed history rows.
func (rh *ReservoirHistory) Rows() []entities.HistoryRow {
	return rh.rows
}

// Table holds the kind's columns plus the reservoir column, one row per
// measurement.
func (rh *ReservoirHistory) Table() repository.Table {
	cols := make([]string, 0, len(rh.fields)+1)
	for _, f := range rh.fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, entities.ReservoirColumn)

	t := repository.Table{
		Kind:    repository.HistoryKind(rh.reservoir.Kind),
		Name:    rh.name,
		Columns: cols,
		Rows:    make([][]string, 0, len(rh.rows)),
	}
	for _, row := range rh.rows {
		t.Rows = append(t.Rows, row.Values())
	}
	return t
}

// Release drops the fetched content and rows once they are persisted.
func (rh *ReservoirHistory) Release() {
	rh.page.Release()
	rh.rows = nil
}
