package collect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
)

func writeDoc(t *testing.T, dir, company, name, body string) {
	t.Helper()
	slug, err := Slug(company)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, slug), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, slug, name), []byte(body), 0o644))
}

func TestFileCollaborator_DecodesDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "Acme Corp", "financial_data.json", `{
		"ticker": "ACME", "exchange": "NYSE", "stock_price": 101.5, "pe_ratio": 18.25,
		"volume": 1200000, "timestamp": "2026-05-04T09:00:00", "summary": "Steady quarter."
	}`)
	writeDoc(t, dir, "Acme Corp", "raw_data.json", `{
		"company": "Acme Corp",
		"news": [{"title": "Acme expands", "link": "https://n/1", "source": "Wire", "date": "2026-05-03T10:00:00Z"}]
	}`)

	fin, err := (&FileCollaborator{Dir: dir, Src: model.SourceFinancial}).Fetch(context.Background(), "Acme Corp")
	require.NoError(t, err)
	fp, ok := fin.(*model.FinancialPayload)
	require.True(t, ok)
	assert.Equal(t, "NYSE", fp.Exchange)
	assert.Equal(t, "101.5", fp.StockPrice.Decimal.String())
	assert.Equal(t, "Steady quarter.", fp.Summary)

	news, err := (&FileCollaborator{Dir: dir, Src: model.SourceNews}).Fetch(context.Background(), "  acme   corp ")
	require.NoError(t, err)
	np := news.(*model.NewsPayload)
	require.Len(t, np.Articles, 1)
	assert.Equal(t, "Wire", np.Articles[0].Outlet)
	require.NotNil(t, np.Articles[0].PublishedAt)
}

func TestFileCollaborator_Failures(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "Acme", "sentiment_data.json", "{}")
	writeDoc(t, dir, "Acme", "regulatory_data.json", "{not json")

	_, err := (&FileCollaborator{Dir: dir, Src: model.SourceFinancial}).Fetch(context.Background(), "Acme")
	assert.ErrorContains(t, err, "no financial data for Acme")

	_, err = (&FileCollaborator{Dir: dir, Src: model.SourceSentiment}).Fetch(context.Background(), "Acme")
	assert.ErrorContains(t, err, "is empty")

	_, err = (&FileCollaborator{Dir: dir, Src: model.SourceRegulatory}).Fetch(context.Background(), "Acme")
	assert.ErrorContains(t, err, "decode regulatory payload")

	_, err = (&FileCollaborator{Dir: dir, Src: "weather"}).Fetch(context.Background(), "Acme")
	assert.ErrorContains(t, err, "no document")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&FileCollaborator{Dir: dir, Src: model.SourceNews}).Fetch(ctx, "Acme")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileCollaborators(t *testing.T) {
	cs := FileCollaborators("data", model.AllSources())
	require.Len(t, cs, 5)
	for i, c := range cs {
		assert.Equal(t, model.AllSources()[i], c.Source())
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Acme", "acme"},
		{"  Acme   Corp ", "acme-corp"},
		{"AT&T Inc.", "at-t-inc"},
		{"Berkshire Hathaway (B)", "berkshire-hathaway-b"},
		{"ＡＣＭＥ", "acme"},
	}
	for _, tt := range tests {
		got, err := Slug(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Slug("")
	assert.Error(t, err)
}
