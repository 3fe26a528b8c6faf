package collect

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/model"
)

// fileNames maps each source to the document its producer writes.
var fileNames = map[model.Source]string{
	model.SourceFinancial:  "financial_data.json",
	model.SourceNews:       "raw_data.json",
	model.SourceSentiment:  "sentiment_data.json",
	model.SourceRegulatory: "regulatory_data.json",
	model.SourceCompetitor: "competitor_data.json",
}

// FileCollaborator reads a source document from <Dir>/<company-slug>/<file>.
type FileCollaborator struct {
	Dir string
	Src model.Source
}

// FileCollaborators returns one FileCollaborator per source, all rooted at dir.
func FileCollaborators(dir string, sources []model.Source) []Collaborator {
	out := make([]Collaborator, 0, len(sources))
	for _, src := range sources {
		out = append(out, &FileCollaborator{Dir: dir, Src: src})
	}
	return out
}

func (f *FileCollaborator) Source() model.Source { return f.Src }

func (f *FileCollaborator) Fetch(ctx context.Context, companyID string) (model.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, ok := fileNames[f.Src]
	if !ok {
		return nil, eris.Errorf("collect: no document for source %q", f.Src)
	}
	slug, err := Slug(companyID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(f.Dir, slug, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Errorf("collect: no %s data for %s", f.Src, companyID)
		}
		return nil, eris.Wrapf(err, "collect: read %s", path)
	}

	// An empty object is what a producer writes when its own fetch failed.
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		return nil, eris.Errorf("collect: %s document for %s is empty", f.Src, companyID)
	}
	return model.DecodePayload(f.Src, trimmed)
}

// Slug turns a company identifier into a directory name: the normalized
// company key with runs of non-alphanumerics replaced by a single dash.
func Slug(companyID string) (string, error) {
	key, err := aggregate.CompanyKey(companyID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	dash := false
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-"), nil
}
