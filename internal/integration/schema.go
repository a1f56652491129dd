package integration

import (
	"errors"
	"fmt"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
)

// ErrUnknownSystemKind is returned for a system kind without an extraction schema.
var ErrUnknownSystemKind = errors.New("unknown system kind")

// Selector locates the nodes holding one field. An empty Attr means the
// node's text.
type Selector struct {
	CSS  string
	Attr string
}

// Field maps a logical field name to its selector.
type Field struct {
	Name     string
	Selector Selector
}

func cell(table string, n int) Selector {
	return Selector{CSS: fmt.Sprintf("%s tbody tr td:nth-child(%d)", table, n)}
}

// SystemsIndexSchema extracts system links from the home page.
var SystemsIndexSchema = []Field{
	{"name", Selector{CSS: "ul#sistemas li a"}},
	{"address", Selector{CSS: "ul#sistemas li a", Attr: "href"}},
}

// ReservoirIndexSchema extracts reservoir codes and names from the
// reservoir dropdown of a system page.
var ReservoirIndexSchema = []Field{
	{"code", Selector{CSS: "select#dropDownListReservatorios option", Attr: "value"}},
	{"name", Selector{CSS: "select#dropDownListReservatorios option"}},
}

const historyTable = "table#tabelaMedicoes"

// Field order matches entities.Columns for each kind.
var historySchemas = map[entities.Kind][]Field{
	entities.KindSIN: {
		{"date", cell(historyTable, 9)},
		{"level", cell(historyTable, 3)},
		{"inflow", cell(historyTable, 4)},
		{"outflow", cell(historyTable, 5)},
		{"spillway_flow", cell(historyTable, 6)},
		{"turbine_flow", cell(historyTable, 7)},
		{"useful_volume", cell(historyTable, 8)},
	},
	entities.KindNordeste: {
		{"date", cell(historyTable, 7)},
		{"capacity", cell(historyTable, 3)},
		{"level", cell(historyTable, 4)},
		{"volume", cell(historyTable, 5)},
		{"volume_percent", cell(historyTable, 6)},
	},
	entities.KindCantareira: {
		{"date", cell(historyTable, 1)},
		{"level", cell(historyTable, 3)},
		{"useful_volume", cell(historyTable, 4)},
		{"inflow", cell(historyTable, 5)},
		{"outflow", cell(historyTable, 6)},
		{"rainfall", cell(historyTable, 7)},
	},
}

// FieldsFor returns the ordered history fields of a system kind.
func FieldsFor(kind entities.Kind) ([]Field, error) {
	fields, ok := historySchemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystemKind, kind)
	}
	return append([]Field(nil), fields...), nil
}
