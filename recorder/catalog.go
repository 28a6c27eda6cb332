package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Recording is one finished recording as stored in the catalog.
type Recording struct {
	SessionID  string    `json:"session_id"`
	SCID       uint32    `json:"scid"`
	Device     string    `json:"device"`
	Format     string    `json:"format"`
	DurationMS uint64    `json:"duration_ms"`
	SizeBytes  uint64    `json:"size_bytes"`
	Path       string    `json:"path"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Options    string    `json:"options"`
}

// Both drivers accept $n placeholders.
const schema = `CREATE TABLE IF NOT EXISTS recordings (
	session_id  VARCHAR(32) PRIMARY KEY,
	scid        BIGINT NOT NULL,
	device      TEXT NOT NULL,
	format      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	path        TEXT NOT NULL,
	archive_key TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	options     TEXT NOT NULL DEFAULT ''
)`

// Catalog persists finished recordings.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens dsn with driver ("sqlite3" or "postgres") and creates
// the recordings table if needed.
func OpenCatalog(ctx context.Context, driver, dsn string) (*Catalog, error) {
	switch driver {
	case "", "sqlite3":
		driver = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("catalog: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create recordings table: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) Insert(ctx context.Context, r Recording) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO recordings
		(session_id, scid, device, format, duration_ms, size_bytes, path, archive_key, started_at, finished_at, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.SessionID, int64(r.SCID), r.Device, r.Format, int64(r.DurationMS), int64(r.SizeBytes),
		r.Path, r.ArchiveKey, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Options)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", r.SessionID, err)
	}
	return nil
}

// List returns every recording, newest first.
func (c *Catalog) List(ctx context.Context) ([]Recording, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT
		session_id, scid, device, format, duration_ms, size_bytes, path, archive_key, started_at, finished_at, options
		FROM recordings ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	out := []Recording{}
	for rows.Next() {
		var r Recording
		var scid, duration, size int64
		if err := rows.Scan(&r.SessionID, &scid, &r.Device, &r.Format, &duration, &size,
			&r.Path, &r.ArchiveKey, &r.StartedAt, &r.FinishedAt, &r.Options); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		r.SCID, r.DurationMS, r.SizeBytes = uint32(scid), uint64(duration), uint64(size)
		out = append(out, r)
	}
	return out, rows.Err()
}
