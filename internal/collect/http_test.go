package collect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
)

func TestHTTPCollaborator_DecodesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs/acme-corp/financial_data.json", r.URL.Path)
		assert.Equal(t, "marketmind/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ticker": "ACME", "stock_price": 42.5}`))
	}))
	defer srv.Close()

	cs := HTTPCollaborators(srv.URL+"/docs", []model.Source{model.SourceFinancial}, 5*time.Second)
	require.Len(t, cs, 1)

	p, err := cs[0].Fetch(context.Background(), "Acme Corp")
	require.NoError(t, err)
	fp, ok := p.(*model.FinancialPayload)
	require.True(t, ok)
	assert.Equal(t, "ACME", fp.Ticker)
	assert.Equal(t, "42.5", fp.StockPrice.Decimal.String())
}

func TestHTTPCollaborator_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		contains  string
	}{
		{name: "not found", status: http.StatusNotFound, contains: "no news data for Acme"},
		{name: "server error", status: http.StatusBadGateway, transient: true, contains: "http 502"},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true, contains: "http 429"},
		{name: "forbidden", status: http.StatusForbidden, contains: "unexpected status 403"},
		{name: "empty document", status: http.StatusOK, body: "{}", contains: "is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "2")
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := &HTTPCollaborator{BaseURL: srv.URL, Src: model.SourceNews, Client: srv.Client()}
			_, err := c.Fetch(context.Background(), "Acme")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))

			if tt.status == http.StatusTooManyRequests {
				var te *resilience.TransientError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, 2*time.Second, te.RetryAfter)
			}
		})
	}
}

func TestHTTPCollaborator_InvalidCompany(t *testing.T) {
	c := &HTTPCollaborator{BaseURL: "http://127.0.0.1:1", Src: model.SourceNews}
	_, err := c.Fetch(context.Background(), "   ")
	assert.Error(t, err)
}

func TestRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfterHeader("3"))
	assert.Zero(t, retryAfterHeader(""))
	assert.Zero(t, retryAfterHeader("Wed, 21 Oct 2026 07:28:00 GMT"))
	assert.Zero(t, retryAfterHeader("-1"))
}
