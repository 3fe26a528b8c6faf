package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/marketmind/internal/model"
)

// sqliteTime is fixed-width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	company_key       TEXT NOT NULL,
	completeness      REAL NOT NULL,
	deadline_exceeded INTEGER NOT NULL DEFAULT 0,
	missing           TEXT NOT NULL DEFAULT '[]',
	failed            TEXT NOT NULL DEFAULT '[]',
	generated_at      TEXT NOT NULL,
	finalized_at      TEXT NOT NULL,
	record            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_results (
	record_id   TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	fetched_at  TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (record_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_records_company_finalized ON records(company_key, finalized_at);
CREATE INDEX IF NOT EXISTS idx_source_results_source ON source_results(source, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.CompanyRecord) error {
	if err := checkSavable(rec); err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	sum := summarize(rec)
	missing, _ := json.Marshal(sourceStrings(sum.Missing))
	failed, _ := json.Marshal(sourceStrings(sum.Failed))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, company_id, company_key, completeness, deadline_exceeded, missing, failed, generated_at, finalized_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			company_key = excluded.company_key,
			completeness = excluded.completeness,
			deadline_exceeded = excluded.deadline_exceeded,
			missing = excluded.missing,
			failed = excluded.failed,
			generated_at = excluded.generated_at,
			finalized_at = excluded.finalized_at,
			record = excluded.record`,
		sum.ID, sum.CompanyID, sum.CompanyKey, sum.Completeness, sum.DeadlineExceeded,
		string(missing), string(failed),
		sum.GeneratedAt.Format(sqliteTime), sum.FinalizedAt.Format(sqliteTime), string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert record %s", rec.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_results WHERE record_id = ?`, rec.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear results %s", rec.ID)
	}
	for _, row := range resultRows(rec) {
		row[4] = row[4].(time.Time).Format(sqliteTime)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_results (record_id, fingerprint, source, status, fetched_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
			row...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result for %s", rec.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.CompanyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM records WHERE id = ?`, id)
	return scanRecord(row, id)
}

func (s *SQLiteStore) LatestRecord(ctx context.Context, companyKey string) (*model.CompanyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM records WHERE company_key = ? ORDER BY finalized_at DESC, id DESC LIMIT 1`,
		companyKey,
	)
	return scanRecord(row, companyKey)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]RecordSummary, error) {
	query := `SELECT id, company_id, company_key, completeness, deadline_exceeded, missing, failed, generated_at, finalized_at
		FROM records WHERE 1=1`
	var args []any

	if filter.CompanyKey != "" {
		query += ` AND company_key = ?`
		args = append(args, filter.CompanyKey)
	}
	if filter.MinCompleteness > 0 {
		query += ` AND completeness >= ?`
		args = append(args, filter.MinCompleteness)
	}
	query += ` ORDER BY finalized_at DESC, id DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []RecordSummary
	for rows.Next() {
		var (
			sum                  RecordSummary
			missing, failed      string
			generated, finalized string
		)
		if err := rows.Scan(&sum.ID, &sum.CompanyID, &sum.CompanyKey, &sum.Completeness, &sum.DeadlineExceeded,
			&missing, &failed, &generated, &finalized); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		if sum.Missing, err = decodeSources(missing); err != nil {
			return nil, err
		}
		if sum.Failed, err = decodeSources(failed); err != nil {
			return nil, err
		}
		if sum.GeneratedAt, err = time.Parse(sqliteTime, generated); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse generated_at")
		}
		if sum.FinalizedAt, err = time.Parse(sqliteTime, finalized); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse finalized_at")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SourceHistory(ctx context.Context) (map[model.Source]map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, status, COUNT(*) FROM source_results GROUP BY source, status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: source history")
	}
	defer rows.Close()

	out := make(map[model.Source]map[model.Status]int)
	for rows.Next() {
		var src, st string
		var n int
		if err := rows.Scan(&src, &st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source history")
		}
		if out[model.Source(src)] == nil {
			out[model.Source(src)] = make(map[model.Status]int)
		}
		out[model.Source(src)][model.Status(st)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: source history iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable, key string) (*model.CompanyRecord, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", key)
		}
		return nil, eris.Wrapf(err, "sqlite: get record %s", key)
	}
	return decodeRecord([]byte(data))
}

func decodeSources(raw string) ([]model.Source, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode source list")
	}
	return toSources(names), nil
}
