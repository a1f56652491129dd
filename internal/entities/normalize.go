package entities

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyInput is returned when an identifier is empty after trimming or
// after its diacritics are removed.
var ErrEmptyInput = errors.New("empty input")

var separators = strings.NewReplacer("/", "_", `\`, "_")

// Normalize turns a display name into an identifier usable as a file or
// table name: lower case, no diacritics, whitespace runs and path
// separators replaced by "_".
// Normalize(Normalize(x)) == Normalize(x) for every accepted x.
func Normalize(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", ErrEmptyInput
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, err := transform.String(t, separators.Replace(strings.ToLower(strings.Join(fields, "_"))))
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrEmptyInput
	}

	return name, nil
}

// MustNormalize is Normalize for compiled-in names.
func MustNormalize(raw string) string {
	name, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return name
}
