package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS model (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	size       INTEGER NOT NULL,
	crc32      INTEGER NOT NULL,
	labels     TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteBackend keeps the model in a single-row sqlite table.
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

// NewSQLiteBackend returns a backend for the database at path.
// Init must be called before use.
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

// Init opens the database and creates the schema.
func (b *SQLiteBackend) Init() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("model db dir: %w", err)
	}
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return fmt.Errorf("open model db: %w", err)
	}
	// set busy timeout to avoid transient locks when the modeltool reads it
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return fmt.Errorf("model db pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("model db schema: %w", err)
	}
	b.db = db
	return nil
}

func (b *SQLiteBackend) Load() (Record, bool, error) {
	var (
		crc    int64
		labels string
		rec    Record
	)
	err := b.db.QueryRow(`SELECT crc32, labels, data FROM model WHERE id = 1`).Scan(&crc, &labels, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load model row: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
		return Record{}, false, fmt.Errorf("decode stored labels: %w", err)
	}
	rec.CRC = uint32(crc)
	return rec, true, nil
}

func (b *SQLiteBackend) Save(rec Record) error {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	_, err = b.db.Exec(`
		INSERT INTO model (id, size, crc32, labels, data, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			crc32 = excluded.crc32,
			labels = excluded.labels,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		len(rec.Data), int64(rec.CRC), string(labels), rec.Data)
	if err != nil {
		return fmt.Errorf("save model row: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Erase() error {
	if _, err := b.db.Exec(`DELETE FROM model`); err != nil {
		return fmt.Errorf("erase model row: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
