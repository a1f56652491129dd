package repository

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// writeFile creates path and hands it to write, reporting close errors.
func writeFile(path string, write func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteJSON stores the table as an array of column-keyed objects.
func WriteJSON(path string, t Table) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t.Records())
	})
}

// ReadJSON loads records written by WriteJSON.
func ReadJSON(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []map[string]string
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// WriteYAML stores the table as a list of column-keyed maps.
func WriteYAML(path string, t Table) error {
	return writeFile(path, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(t.Records()); err != nil {
			return err
		}
		return enc.Close()
	})
}

// WriteBlob stores the whole table gob-encoded.
func WriteBlob(path string, t Table) error {
	return writeFile(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(t)
	})
}

// ReadBlob loads a table written by WriteBlob.
func ReadBlob(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var t Table
	if err := gob.NewDecoder(f).Decode(&t); err != nil {
		return Table{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return t, nil
}

// WriteCSV stores the table as ';' separated UTF-8 text with a header row.
func WriteCSV(path string, t Table) error {
	if len(t.Rows) == 0 {
		return fmt.Errorf("csv %s: %w", path, ErrEmptyResult)
	}

	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Comma = ';'
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return err
		}
		return cw.Error()
	})
}
