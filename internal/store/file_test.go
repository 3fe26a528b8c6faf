package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFile(filepath.Join(t.TempDir(), "records"))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestFileStore_RoundTrip(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	rec := finalizedRecord(t, "Acme", base)

	require.NoError(t, s.SaveRecord(ctx, rec))
	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStore_LatestListHistory(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	older := finalizedRecord(t, "Acme", base)
	newer := finalizedRecord(t, "acme", base.Add(time.Hour))
	other := finalizedRecord(t, "Initech", base.Add(-time.Hour))
	for _, rec := range []*model.CompanyRecord{older, newer, other} {
		require.NoError(t, s.SaveRecord(ctx, rec))
	}

	latest, err := s.LatestRecord(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	list, err := s.ListRecords(ctx, RecordFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	list, err = s.ListRecords(ctx, RecordFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, list)

	hist, err := s.SourceHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, hist[model.SourceFinancial][model.StatusSuccess])
}

func TestFileStore_Errors(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	_, err := s.GetRecord(ctx, "../etc/passwd")
	assert.True(t, eris.Is(err, ErrNotFound), "got %v", err)

	_, err = s.GetRecord(ctx, "nope")
	assert.True(t, eris.Is(err, ErrNotFound), "got %v", err)

	_, err = s.LatestRecord(ctx, "acme")
	assert.True(t, eris.Is(err, ErrNotFound), "got %v", err)

	assert.ErrorContains(t, s.SaveRecord(ctx, nil), "nil record")
}

func TestFileStore_MissingDirListsNothing(t *testing.T) {
	s := NewFile(filepath.Join(t.TempDir(), "absent"))
	list, err := s.ListRecords(context.Background(), RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
