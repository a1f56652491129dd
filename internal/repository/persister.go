package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
)

// Formats selects the outputs written for every persisted table.
type Formats struct {
	SQLite bool
	JSON   bool
	Blob   bool // gob-encoded Table written as <name>.pickle
	CSV    bool
	YAML   bool
}

type fileFormat struct {
	name  string
	ext   string
	write func(path string, t Table) error
}

// Persister writes tables to every enabled output format inside one
// directory. It is safe for concurrent use.
type Persister struct {
	dir     string
	store   *SQLiteStore
	files   []fileFormat
	metrics *metrics.Metrics
}

// NewPersister creates dir if needed and prepares the enabled formats. The
// SQLite store, when enabled, is the single file dbFile inside dir.
func NewPersister(dir, dbFile string, formats Formats, m *metrics.Metrics) (*Persister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	p := &Persister{dir: dir, metrics: m}

	if formats.SQLite {
		store, err := NewSQLiteStore(filepath.Join(dir, dbFile))
		if err != nil {
			return nil, err
		}
		p.store = store
	}
	if formats.JSON {
		p.files = append(p.files, fileFormat{"json", ".json", WriteJSON})
	}
	if formats.YAML {
		p.files = append(p.files, fileFormat{"yaml", ".yaml", WriteYAML})
	}
	if formats.Blob {
		p.files = append(p.files, fileFormat{"blob", ".pickle", WriteBlob})
	}
	if formats.CSV {
		p.files = append(p.files, fileFormat{"csv", ".csv", WriteCSV})
	}

	return p, nil
}

// Store returns the SQLite store, or nil when the format is disabled.
func (p *Persister) Store() *SQLiteStore {
	return p.store
}

// Path returns the file a format extension is written to for an entity name.
func (p *Persister) Path(name, ext string) string {
	return filepath.Join(p.dir, name+ext)
}

// Persist writes t to every enabled format. Tables without rows are skipped.
func (p *Persister) Persist(ctx context.Context, t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if len(t.Rows) == 0 {
		slog.Info("Nothing to save", "entity", t.Name, "kind", t.Kind)
		return nil
	}

	if p.store != nil {
		if err := p.store.SaveTable(ctx, t); err != nil {
			return err
		}
	}

	for _, f := range p.files {
		if err := f.write(p.Path(t.Name, f.ext), t); err != nil {
			return fmt.Errorf("failed to save %s as %s: %w", t.Name, f.name, err)
		}
	}

	p.metrics.Persisted(TableName(t.Kind), len(t.Rows))
	slog.Info("Saved entity", "entity", t.Name, "kind", t.Kind, "rows", len(t.Rows))
	return nil
}
