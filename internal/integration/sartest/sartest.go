// Package sartest provides an in-memory monitoring site for tests: a Getter
// serving registered pages and HTML builders matching the site's markup.
package sartest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
)

// ErrConnection is returned for addresses registered with Fail.
var ErrConnection = errors.New("connection refused")

type page struct {
	status int
	body   string
	fail   bool
}

// Site serves registered pages and records how it was called. Unknown
// addresses answer 404.
type Site struct {
	// Latency is slept inside every Get, making concurrent calls overlap.
	Latency time.Duration

	mu          sync.Mutex
	pages       map[string]page
	calls       map[string]int
	inFlight    int
	maxInFlight int
}

// NewSite creates an empty site.
func NewSite() *Site {
	return &Site{pages: map[string]page{}, calls: map[string]int{}}
}

// Handle registers body under url with the given status.
func (s *Site) Handle(url string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page{status: status, body: body}
}

// Fail makes every Get of url return ErrConnection.
func (s *Site) Fail(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page{fail: true}
}

func (s *Site) Get(ctx context.Context, url string) (int, []byte, error) {
	s.mu.Lock()
	s.calls[url]++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	p, ok := s.pages[url]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(s.Latency):
		}
	}

	switch {
	case !ok:
		return http.StatusNotFound, []byte("not found"), nil
	case p.fail:
		return 0, nil, ErrConnection
	default:
		return p.status, []byte(p.body), nil
	}
}

// Calls returns how many times url was requested.
func (s *Site) Calls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// TotalCalls returns the number of requests served.
func (s *Site) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// MaxInFlight returns the highest number of simultaneous Get calls seen.
func (s *Site) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// Link is one system entry of the home page.
type Link struct {
	Name string
	Href string
}

// HomePage renders the systems list.
func HomePage(links ...Link) string {
	var b strings.Builder
	b.WriteString("<html><body><h1>Sistema de Acompanhamento de Reservatórios</h1><ul id=\"sistemas\">\n")
	for _, l := range links {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(l.Href), html.EscapeString(l.Name))
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

// Option is one reservoir entry of a system page.
type Option struct {
	Code string
	Name string
}

// ReservoirIndexPage renders a system page with its reservoir dropdown.
func ReservoirIndexPage(options ...Option) string {
	var b strings.Builder
	b.WriteString("<html><body><form><select id=\"dropDownListReservatorios\">\n")
	for _, o := range options {
		fmt.Fprintf(&b, "<option value=\"%s\">%s</option>\n", html.EscapeString(o.Code), html.EscapeString(o.Name))
	}
	b.WriteString("</select><input type=\"submit\" name=\"button\" value=\"Buscar\"/></form></body></html>")
	return b.String()
}

// layouts gives the column found at each table position of a history page.
var layouts = map[entities.Kind][]string{
	entities.KindSIN:        {"code", "name", "level", "inflow", "outflow", "spillway_flow", "turbine_flow", "useful_volume", "date"},
	entities.KindNordeste:   {"code", "name", "capacity", "level", "volume", "volume_percent", "date"},
	entities.KindCantareira: {"date", "name", "level", "useful_volume", "inflow", "outflow", "rainfall"},
}

// HistoryValue is the value HistoryPage puts in column for row i.
func HistoryValue(column string, i int) string {
	switch column {
	case "date":
		return fmt.Sprintf("%02d/01/2024", i+1)
	case "code":
		return "19058"
	case "name":
		return "RESERVATÓRIO"
	default:
		return fmt.Sprintf("%d,%02d", 100+len(column)*10+i, i)
	}
}

// HistoryPage renders a history table of kind with n measurement lines.
func HistoryPage(kind entities.Kind, n int) string {
	layout := layouts[kind]

	var b strings.Builder
	b.WriteString("<html><body><table id=\"tabelaMedicoes\"><thead><tr>")
	for _, col := range layout {
		fmt.Fprintf(&b, "<th>%s</th>", col)
	}
	b.WriteString("</tr></thead><tbody>\n")
	for i := 0; i < n; i++ {
		b.WriteString("<tr>")
		for _, col := range layout {
			fmt.Fprintf(&b, "<td> %s </td>", html.EscapeString(HistoryValue(col, i)))
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}
