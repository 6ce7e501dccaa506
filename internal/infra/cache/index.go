package cache

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// index persists span metadata so the cache survives restarts.
type index struct {
	db *sql.DB
}

type spanRow struct {
	key        string
	start      int64
	length     int64
	file       string
	lastAccess int64
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache index")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache_spans (
			locator     TEXT NOT NULL,
			start       INTEGER NOT NULL,
			length      INTEGER NOT NULL,
			file        TEXT NOT NULL,
			last_access INTEGER NOT NULL,
			PRIMARY KEY (locator, start)
		)`,
		`CREATE TABLE IF NOT EXISTS cache_lengths (
			locator TEXT PRIMARY KEY,
			length  INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to create cache index")
		}
	}
	return &index{db: db}, nil
}

// load returns all spans, least recently used first.
func (i *index) load() ([]spanRow, error) {
	rows, err := i.db.Query(`
		SELECT locator, start, length, file, last_access
		FROM cache_spans
		ORDER BY last_access ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cache index")
	}
	defer rows.Close()

	var out []spanRow
	for rows.Next() {
		var r spanRow
		if err := rows.Scan(&r.key, &r.start, &r.length, &r.file, &r.lastAccess); err != nil {
			return nil, errors.Wrap(err, "failed to scan cache index")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (i *index) put(s *span) error {
	_, err := i.db.Exec(`
		INSERT OR REPLACE INTO cache_spans (locator, start, length, file, last_access)
		VALUES (?, ?, ?, ?, ?)
	`, s.key, s.start, s.length, s.file, time.Now().UnixNano())
	return err
}

func (i *index) touch(s *span) error {
	_, err := i.db.Exec(`
		UPDATE cache_spans SET last_access = ? WHERE locator = ? AND start = ?
	`, time.Now().UnixNano(), s.key, s.start)
	return err
}

func (i *index) remove(key string, start int64) error {
	_, err := i.db.Exec(`DELETE FROM cache_spans WHERE locator = ? AND start = ?`, key, start)
	return err
}

// loadLengths returns the known total length of each resource.
func (i *index) loadLengths() (map[string]int64, error) {
	rows, err := i.db.Query(`SELECT locator, length FROM cache_lengths`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cache lengths")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key    string
			length int64
		)
		if err := rows.Scan(&key, &length); err != nil {
			return nil, errors.Wrap(err, "failed to scan cache lengths")
		}
		out[key] = length
	}
	return out, rows.Err()
}

func (i *index) putLength(key string, length int64) error {
	_, err := i.db.Exec(`INSERT OR REPLACE INTO cache_lengths (locator, length) VALUES (?, ?)`, key, length)
	return err
}

func (i *index) removeLength(key string) error {
	_, err := i.db.Exec(`DELETE FROM cache_lengths WHERE locator = ?`, key)
	return err
}

func (i *index) close() error {
	return i.db.Close()
}
