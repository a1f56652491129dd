package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// busyTimeoutMillis lets a connection wait for a lock held by another process
// sharing the same store file.
const busyTimeoutMillis = 10000

// SQLiteStore is the table store shared by every entity of a run. Each call
// opens and closes its own connection; writes within the process are
// serialized.
type SQLiteStore struct {
	DBPath string
	mu     sync.Mutex
}

// HistoryRecord is the latest stored history row of a reservoir.
type HistoryRecord struct {
	Kind    entities.Kind
	Columns []string
	Values  []string
}

// NewSQLiteStore prepares a store at dbPath, creating its directory.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return &SQLiteStore{DBPath: dbPath}, nil
}

func (s *SQLiteStore) open() (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", s.DBPath, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openExisting opens the store for reading. It returns a nil handle when no
// run has created the file yet, so that reads never create it.
func (s *SQLiteStore) openExisting() (*sql.DB, error) {
	if _, err := os.Stat(s.DBPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return s.open()
}

// TableName maps an entity kind to its SQLite table name.
func TableName(kind string) string {
	return strings.ToUpper(kind)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SaveTable appends the table's rows to the SQLite table of its kind,
// creating it with TEXT columns if it does not exist yet. Rows are never
// deduplicated.
func (s *SQLiteStore) SaveTable(ctx context.Context, t Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	name := quoteIdent(TableName(t.Kind))
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c)
	}

	createTableSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT)", name, strings.Join(cols, " TEXT, "))
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		name, strings.Join(cols, ", "), placeholders))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for _, row := range t.Rows {
		for i, v := range row {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert row of %s into %s: %w", t.Name, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Debug("Saved rows to table store", "table", TableName(t.Kind), "entity", t.Name, "rows", len(t.Rows))
	return nil
}

// CountRows returns the number of rows of the table of kind, or 0 if the
// table does not exist.
func (s *SQLiteStore) CountRows(ctx context.Context, kind string) (int, error) {
	db, err := s.openExisting()
	if err != nil || db == nil {
		return 0, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, TableName(kind))
	if err != nil || !exists {
		return 0, err
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(TableName(kind)))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", kind, err)
	}
	return n, nil
}

// CountRowsWhere counts the rows of the table of kind whose column equals value.
func (s *SQLiteStore) CountRowsWhere(ctx context.Context, kind, column, value string) (int, error) {
	db, err := s.openExisting()
	if err != nil || db == nil {
		return 0, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, TableName(kind))
	if err != nil || !exists {
		return 0, err
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quoteIdent(TableName(kind)), quoteIdent(column))
	if err := db.QueryRowContext(ctx, query, value).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", kind, err)
	}
	return n, nil
}

// GetSystems returns the distinct system names stored by previous runs.
func (s *SQLiteStore) GetSystems(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT name FROM SYSTEMS ORDER BY name", "SYSTEMS")
}

// GetReservoirs returns the distinct reservoir names of a system.
func (s *SQLiteStore) GetReservoirs(ctx context.Context, system string) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT name FROM RESERVOIRS WHERE system = ? ORDER BY name", "RESERVOIRS", system)
}

// GetAllReservoirs returns every distinct reservoir name.
func (s *SQLiteStore) GetAllReservoirs(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT name FROM RESERVOIRS ORDER BY name", "RESERVOIRS")
}

func (s *SQLiteStore) distinct(ctx context.Context, query, table string, args ...any) ([]string, error) {
	db, err := s.openExisting()
	if err != nil || db == nil {
		return nil, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, table)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return names, nil
}

// GetLatestHistory returns the history row of a reservoir with the newest
// date, searching the history table of every known kind. Rows sharing that
// date resolve to the last inserted. It returns nil when nothing is stored.
func (s *SQLiteStore) GetLatestHistory(ctx context.Context, reservoir string) (*HistoryRecord, error) {
	db, err := s.openExisting()
	if err != nil || db == nil {
		return nil, err
	}
	defer db.Close()

	for _, kind := range entities.Kinds {
		table := TableName(HistoryKind(kind))
		exists, err := tableExists(ctx, db, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s DESC, rowid DESC LIMIT 1",
			quoteIdent(table), quoteIdent(entities.ReservoirColumn), sortableDate(entities.DateColumn))
		record, err := queryRecord(ctx, db, query, reservoir)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		if record != nil {
			record.Kind = kind
			return record, nil
		}
	}
	return nil, nil
}

// sortableDate rewrites a dd/mm/yyyy column as yyyymmdd so that it orders
// chronologically.
func sortableDate(column string) string {
	c := quoteIdent(column)
	return fmt.Sprintf("substr(%[1]s, 7, 4) || substr(%[1]s, 4, 2) || substr(%[1]s, 1, 2)", c)
}

func queryRecord(ctx context.Context, db *sql.DB, query string, args ...any) (*HistoryRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	record := &HistoryRecord{Columns: cols, Values: make([]string, len(cols))}
	for i, v := range values {
		record.Values[i] = v.String
	}
	return record, nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// LastUpdate returns when the store file was last written, or the zero time
// if no run has created it yet.
func (s *SQLiteStore) LastUpdate() (time.Time, error) {
	info, err := os.Stat(s.DBPath)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat database: %w", err)
	}
	return info.ModTime(), nil
}
