package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS upload_records (
	record_key TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps queue records in a local SQLite file. It is the default
// backend: durable across restarts, private to the machine.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// OpenSQLite opens (or creates) the database at path with WAL and a busy
// timeout, and ensures the record table exists. Use ":memory:" in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Pragmas are per connection, and each ":memory:" connection is its own
	// database.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create upload_records: %w", err)
	}

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an open database whose schema is already in place.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (Record, error) {
	sqlStr, args, err := s.sb.
		Select("value", "version").
		From("upload_records").
		Where(sq.Eq{"record_key": key}).
		ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("build record select: %w", err)
	}

	var rec Record
	err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&rec.Data, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: %w", key, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, data []byte, version int64) (int64, error) {
	var (
		q   sq.Sqlizer
		now = time.Now().UnixMilli()
	)
	if version == 0 {
		q = s.sb.
			Insert("upload_records").
			Columns("record_key", "value", "version", "updated_at").
			Values(key, data, 1, now).
			Suffix("ON CONFLICT (record_key) DO NOTHING")
	} else {
		q = s.sb.
			Update("upload_records").
			Set("value", data).
			Set("version", version+1).
			Set("updated_at", now).
			Where(sq.Eq{"record_key": key, "version": version})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build record save: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("save record %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save record %s: %w", key, err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return version + 1, nil
}

var _ RecordStore = (*SQLiteStore)(nil)
