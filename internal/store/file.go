package store

import (
	"cmp"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/model"
)

// FileStore keeps one JSON document per record in a directory. It suits
// single-process use and fixtures; listings read every file.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFile returns a store rooted at dir. Migrate creates the directory.
func NewFile(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Migrate(_ context.Context) error {
	return eris.Wrap(os.MkdirAll(s.dir, 0o755), "file store: create dir")
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", eris.Errorf("file store: invalid record id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) SaveRecord(_ context.Context, rec *model.CompanyRecord) error {
	if err := checkSavable(rec); err != nil {
		return err
	}
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return eris.Wrap(err, "file store: create temp")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "file store: write temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "file store: close temp")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "file store: save %s", rec.ID)
}

func (s *FileStore) GetRecord(_ context.Context, id string) (*model.CompanyRecord, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, eris.Wrap(ErrNotFound, err.Error())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readRecordFile(path, id)
}

func (s *FileStore) LatestRecord(ctx context.Context, companyKey string) (*model.CompanyRecord, error) {
	recs, err := s.all()
	if err != nil {
		return nil, err
	}
	var latest *model.CompanyRecord
	for _, rec := range recs {
		if rec.CompanyKey != companyKey {
			continue
		}
		if latest == nil || newerRecord(rec, latest) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, eris.Wrapf(ErrNotFound, "file store: %s", companyKey)
	}
	return latest, nil
}

func (s *FileStore) ListRecords(_ context.Context, filter RecordFilter) ([]RecordSummary, error) {
	recs, err := s.all()
	if err != nil {
		return nil, err
	}
	recs = slices.DeleteFunc(recs, func(rec *model.CompanyRecord) bool {
		return (filter.CompanyKey != "" && rec.CompanyKey != filter.CompanyKey) ||
			rec.Completeness < filter.MinCompleteness
	})
	slices.SortFunc(recs, func(a, b *model.CompanyRecord) int {
		if newerRecord(a, b) {
			return -1
		}
		if newerRecord(b, a) {
			return 1
		}
		return 0
	})

	if filter.Offset >= len(recs) {
		return nil, nil
	}
	recs = recs[filter.Offset:]
	if len(recs) > filter.limit() {
		recs = recs[:filter.limit()]
	}
	out := make([]RecordSummary, len(recs))
	for i, rec := range recs {
		out[i] = summarize(rec)
	}
	return out, nil
}

func (s *FileStore) SourceHistory(_ context.Context) (map[model.Source]map[model.Status]int, error) {
	recs, err := s.all()
	if err != nil {
		return nil, err
	}
	out := make(map[model.Source]map[model.Status]int)
	for _, rec := range recs {
		for _, res := range rec.Results {
			if out[res.Source] == nil {
				out[res.Source] = make(map[model.Status]int)
			}
			out[res.Source][res.Status]++
		}
	}
	return out, nil
}

func (s *FileStore) all() ([]*model.CompanyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "file store: read dir")
	}
	var out []*model.CompanyRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		rec, err := readRecordFile(filepath.Join(s.dir, name), strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func readRecordFile(path, id string) (*model.CompanyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "file store: %s", id)
		}
		return nil, eris.Wrapf(err, "file store: read %s", id)
	}
	return decodeRecord(data)
}

// newerRecord orders records by finalization time, then id, newest first.
func newerRecord(a, b *model.CompanyRecord) bool {
	sa, sb := summarize(a), summarize(b)
	if c := sa.FinalizedAt.Compare(sb.FinalizedAt); c != 0 {
		return c > 0
	}
	return cmp.Compare(a.ID, b.ID) > 0
}
