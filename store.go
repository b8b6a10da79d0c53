package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the record table used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS upload_records (
	record_key TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps queue records in Postgres. It lets several instances
// share one queue; concurrent writers are serialised by the version check.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// NewPostgresStore creates a record store from an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureTable creates the upload_records table if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("create upload_records: %w", err)
	}
	return nil
}

// Load reads one record.
func (s *PostgresStore) Load(ctx context.Context, key string) (Record, error) {
	sqlStr, args, err := s.sb.
		Select("value", "version").
		From("upload_records").
		Where(sq.Eq{"record_key": key}).
		ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("build record select: %w", err)
	}

	var rec Record
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(&rec.Data, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: %w", key, err)
	}
	return rec, nil
}

// Save writes a record if its stored version still equals version.
func (s *PostgresStore) Save(ctx context.Context, key string, data []byte, version int64) (int64, error) {
	var (
		q   sq.Sqlizer
		now = time.Now().UTC()
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

	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("save record %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrVersionConflict
	}
	return version + 1, nil
}

var _ RecordStore = (*PostgresStore)(nil)
