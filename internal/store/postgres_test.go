package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS records`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := finalizedRecord(t, "Acme", base)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(rec.ID, "Acme", "acme", rec.Completeness, true,
			[]string{"sentiment"}, []string{"news"},
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM source_results WHERE record_id = \$1`).
		WithArgs(rec.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"source_results"}, resultColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := finalizedRecord(t, "Acme", base)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO records`).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.SaveRecord(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := finalizedRecord(t, "Acme", base)
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT record FROM records WHERE id = \$1`).
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(data))

	got, err := s.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.Succeeded(model.SourceFinancial))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM records WHERE company_key = \$1 ORDER BY finalized_at DESC`).
		WithArgs("acme").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestRecord(context.Background(), "acme")
	assert.True(t, eris.Is(err, ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM records WHERE completeness >= \$1 AND company_key = \$2 ORDER BY finalized_at DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(0.5, "acme", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_id", "company_key", "completeness", "deadline_exceeded", "missing", "failed", "generated_at", "finalized_at",
		}).AddRow("r1", "Acme", "acme", 0.6, true, []string{"news"}, []string{}, base, base))

	list, err := s.ListRecords(context.Background(), RecordFilter{CompanyKey: "acme", MinCompleteness: 0.5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []model.Source{model.SourceNews}, list[0].Missing)
	assert.Nil(t, list[0].Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SourceHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT source, status, COUNT\(\*\) FROM source_results GROUP BY source, status`).
		WillReturnRows(pgxmock.NewRows([]string{"source", "status", "count"}).
			AddRow("news", "failure", int64(2)).
			AddRow("news", "success", int64(5)))

	hist, err := s.SourceHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusFailure: 2, model.StatusSuccess: 5}, hist[model.SourceNews])
	assert.NoError(t, mock.ExpectationsWereMet())
}
