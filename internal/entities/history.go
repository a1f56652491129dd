package entities

import "fmt"

// Kind identifies a system's page layout and therefore its history row shape.
// The value is the system's normalized name.
type Kind string

// Known system kinds
const (
	KindSIN        Kind = "sin"
	KindNordeste   Kind = "nordeste_e_semiarido"
	KindCantareira Kind = "cantareira"
)

// Kinds lists every kind that has a row type.
var Kinds = []Kind{KindSIN, KindNordeste, KindCantareira}

// ReservoirColumn is the identity column appended to every history row.
const ReservoirColumn = "reservoir"

// DateColumn is the first column of every history kind, in DateLayout.
const DateColumn = "date"

// HistoryRow is one dated measurement of one reservoir. The set of
// implementations is closed: SINRow, NordesteRow and CantareiraRow.
type HistoryRow interface {
	Kind() Kind
	// Values returns the measurement fields in Columns order followed by
	// the reservoir name.
	Values() []string
	historyRow()
}

// SINRow is a history row of the national interconnected system.
type SINRow struct {
	Date         string
	Level        string // m
	Inflow       string // m³/s
	Outflow      string // m³/s
	SpillwayFlow string // m³/s
	TurbineFlow  string // m³/s
	UsefulVolume string // %
	Reservoir    string
}

func (SINRow) Kind() Kind { return KindSIN }

func (r SINRow) Values() []string {
	return []string{r.Date, r.Level, r.Inflow, r.Outflow, r.SpillwayFlow, r.TurbineFlow, r.UsefulVolume, r.Reservoir}
}

func (SINRow) historyRow() {}

// NordesteRow is a history row of the northeast and semi-arid system.
type NordesteRow struct {
	Date          string
	Capacity      string // hm³
	Level         string // m
	Volume        string // hm³
	VolumePercent string // %
	Reservoir     string
}

func (NordesteRow) Kind() Kind { return KindNordeste }

func (r NordesteRow) Values() []string {
	return []string{r.Date, r.Capacity, r.Level, r.Volume, r.VolumePercent, r.Reservoir}
}

func (NordesteRow) historyRow() {}

// CantareiraRow is a history row of the Cantareira supply system.
type CantareiraRow struct {
	Date         string
	Level        string // m
	UsefulVolume string // %
	Inflow       string // m³/s
	Outflow      string // m³/s
	Rainfall     string // mm
	Reservoir    string
}

func (CantareiraRow) Kind() Kind { return KindCantareira }

func (r CantareiraRow) Values() []string {
	return []string{r.Date, r.Level, r.UsefulVolume, r.Inflow, r.Outflow, r.Rainfall, r.Reservoir}
}

func (CantareiraRow) historyRow() {}

var historyColumns = map[Kind][]string{
	KindSIN:        {DateColumn, "level", "inflow", "outflow", "spillway_flow", "turbine_flow", "useful_volume"},
	KindNordeste:   {DateColumn, "capacity", "level", "volume", "volume_percent"},
	KindCantareira: {DateColumn, "level", "useful_volume", "inflow", "outflow", "rainfall"},
}

// Columns returns the measurement columns of kind, without the reservoir
// column. The result is nil for an unknown kind.
func Columns(kind Kind) []string {
	cols := historyColumns[kind]
	if cols == nil {
		return nil
	}
	return append([]string(nil), cols...)
}

// NewHistoryRow builds the row type of kind from values given in Columns
// order. It fails when the kind is unknown or the value count is wrong.
func NewHistoryRow(kind Kind, values []string, reservoir string) (HistoryRow, error) {
	cols, ok := historyColumns[kind]
	if !ok {
		return nil, fmt.Errorf("no row type for system kind %q", kind)
	}
	if len(values) != len(cols) {
		return nil, fmt.Errorf("%s row needs %d values, got %d", kind, len(cols), len(values))
	}

	v := values
	switch kind {
	case KindSIN:
		return SINRow{
			Date: v[0], Level: v[1], Inflow: v[2], Outflow: v[3],
			SpillwayFlow: v[4], TurbineFlow: v[5], UsefulVolume: v[6],
			Reservoir: reservoir,
		}, nil
	case KindNordeste:
		return NordesteRow{
			Date: v[0], Capacity: v[1], Level: v[2], Volume: v[3], VolumePercent: v[4],
			Reservoir: reservoir,
		}, nil
	default:
		return CantareiraRow{
			Date: v[0], Level: v[1], UsefulVolume: v[2], Inflow: v[3], Outflow: v[4], Rainfall: v[5],
			Reservoir: reservoir,
		}, nil
	}
}
