// Package entities contains the core domain objects for the reservoir scraper
package entities

import (
	"fmt"
	"net/url"
	"time"
)

// DateLayout is the date format the monitoring site uses in queries and tables.
const DateLayout = "02/01/2006"

// System is one regional grouping of monitored reservoirs
type System struct {
	Name    string // Normalized system name
	Address string // Index page listing the system's reservoirs
	Kind    Kind   // Selects the history row shape
}

// NewSystem normalizes the raw display name and builds a System.
func NewSystem(rawName, address string) (System, error) {
	name, err := Normalize(rawName)
	if err != nil {
		return System{}, fmt.Errorf("system name %q: %w", rawName, err)
	}
	return System{Name: name, Address: address, Kind: Kind(name)}, nil
}

// Reservoir is one monitored dam belonging to exactly one System
type Reservoir struct {
	Code    string // Site-assigned identifier, kept opaque
	Name    string // Normalized reservoir name
	Address string // History page for the whole available period
	System  string // Owning system's normalized name
	Kind    Kind
}

// NewReservoir builds a Reservoir of system whose history spans from start
// (DateLayout) until today.
func NewReservoir(system System, code, rawName, start string, today time.Time) (Reservoir, error) {
	name, err := Normalize(rawName)
	if err != nil {
		return Reservoir{}, fmt.Errorf("reservoir %q of %s: %w", code, system.Name, err)
	}

	address, err := HistoryAddress(system.Address, code, start, today)
	if err != nil {
		return Reservoir{}, err
	}

	return Reservoir{
		Code:    code,
		Name:    name,
		Address: address,
		System:  system.Name,
		Kind:    system.Kind,
	}, nil
}

// HistoryAddress encodes the reservoir code and the date range into the
// system address. Existing query parameters of the system address are kept.
func HistoryAddress(systemAddress, code, start string, today time.Time) (string, error) {
	u, err := url.Parse(systemAddress)
	if err != nil {
		return "", fmt.Errorf("invalid system address %q: %w", systemAddress, err)
	}

	q := u.Query()
	q.Set("dropDownListReservatorios", code)
	q.Set("dataInicial", start)
	q.Set("dataFinal", today.Format(DateLayout))
	q.Set("button", "Buscar")
	u.RawQuery = q.Encode()

	return u.String(), nil
}
