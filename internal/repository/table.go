// Package repository provides data access implementations
package repository

import (
	"errors"
	"fmt"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
)

// ErrEmptyResult is returned by writers that cannot produce output from a
// table without rows.
var ErrEmptyResult = errors.New("empty result")

// Table is the row collection of one scraped entity, ready to be persisted.
// All values are kept as text.
type Table struct {
	Kind    string // Entity kind, becomes the SQLite table name (uppercased)
	Name    string // Normalized entity name, becomes the file name
	Columns []string
	Rows    [][]string
}

// Validate checks that the table can be persisted without ragged rows.
func (t Table) Validate() error {
	if t.Kind == "" || t.Name == "" {
		return fmt.Errorf("table needs a kind and a name (kind=%q, name=%q)", t.Kind, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s row %d has %d values, want %d", t.Name, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Records returns the rows as column-name keyed maps.
func (t Table) Records() []map[string]string {
	records := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			rec[col] = row[i]
		}
		records = append(records, rec)
	}
	return records
}

// Entity kinds used as table identifiers
const (
	KindSystems    = "systems"
	KindReservoirs = "reservoirs"
)

// HistoryKind is the table kind holding history rows of a system kind.
func HistoryKind(kind entities.Kind) string {
	return "history_" + string(kind)
}
