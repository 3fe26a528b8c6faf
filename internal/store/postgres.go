package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/db"
	"github.com/sells-group/marketmind/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to connString and returns a store on the pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	company_key       TEXT NOT NULL,
	completeness      DOUBLE PRECISION NOT NULL,
	deadline_exceeded BOOLEAN NOT NULL DEFAULT false,
	missing           TEXT[] NOT NULL DEFAULT '{}',
	failed            TEXT[] NOT NULL DEFAULT '{}',
	generated_at      TIMESTAMPTZ NOT NULL,
	finalized_at      TIMESTAMPTZ NOT NULL,
	record            JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS source_results (
	record_id   TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (record_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_records_company_finalized ON records(company_key, finalized_at DESC);
CREATE INDEX IF NOT EXISTS idx_source_results_source ON source_results(source, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.CompanyRecord) error {
	if err := checkSavable(rec); err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	sum := summarize(rec)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO records (id, company_id, company_key, completeness, deadline_exceeded, missing, failed, generated_at, finalized_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			company_key = EXCLUDED.company_key,
			completeness = EXCLUDED.completeness,
			deadline_exceeded = EXCLUDED.deadline_exceeded,
			missing = EXCLUDED.missing,
			failed = EXCLUDED.failed,
			generated_at = EXCLUDED.generated_at,
			finalized_at = EXCLUDED.finalized_at,
			record = EXCLUDED.record`,
		sum.ID, sum.CompanyID, sum.CompanyKey, sum.Completeness, sum.DeadlineExceeded,
		sourceStrings(sum.Missing), sourceStrings(sum.Failed), sum.GeneratedAt, sum.FinalizedAt, data,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM source_results WHERE record_id = $1`, rec.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear results %s", rec.ID)
	}
	if _, err := db.CopyFrom(ctx, tx, "source_results", resultColumns, resultRows(rec)); err != nil {
		return eris.Wrapf(err, "postgres: copy results %s", rec.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.CompanyRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT record FROM records WHERE id = $1`, id)
	return scanPgRecord(row, id)
}

func (s *PostgresStore) LatestRecord(ctx context.Context, companyKey string) (*model.CompanyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM records WHERE company_key = $1 ORDER BY finalized_at DESC, id DESC LIMIT 1`,
		companyKey,
	)
	return scanPgRecord(row, companyKey)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]RecordSummary, error) {
	query := `SELECT id, company_id, company_key, completeness, deadline_exceeded, missing, failed, generated_at, finalized_at
		FROM records WHERE completeness >= $1`
	args := []any{filter.MinCompleteness}

	if filter.CompanyKey != "" {
		args = append(args, filter.CompanyKey)
		query += ` AND company_key = $2`
	}
	args = append(args, filter.limit(), filter.Offset)
	query += ` ORDER BY finalized_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []RecordSummary
	for rows.Next() {
		var (
			sum             RecordSummary
			missing, failed []string
		)
		if err := rows.Scan(&sum.ID, &sum.CompanyID, &sum.CompanyKey, &sum.Completeness, &sum.DeadlineExceeded,
			&missing, &failed, &sum.GeneratedAt, &sum.FinalizedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		sum.Missing = toSources(missing)
		sum.Failed = toSources(failed)
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SourceHistory(ctx context.Context) (map[model.Source]map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, status, COUNT(*) FROM source_results GROUP BY source, status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: source history")
	}
	defer rows.Close()

	out := make(map[model.Source]map[model.Status]int)
	for rows.Next() {
		var src, st string
		var n int64
		if err := rows.Scan(&src, &st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source history")
		}
		if out[model.Source(src)] == nil {
			out[model.Source(src)] = make(map[model.Status]int)
		}
		out[model.Source(src)][model.Status(st)] = int(n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: source history iterate")
}

func scanPgRecord(row pgx.Row, key string) (*model.CompanyRecord, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: %s", key)
		}
		return nil, eris.Wrapf(err, "postgres: get record %s", key)
	}
	return decodeRecord(data)
}
