package collect

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
)

// maxDocumentBytes caps a single source document read over HTTP.
const maxDocumentBytes = 8 << 20

// HTTPCollaborator fetches the same documents a FileCollaborator reads, from
// <BaseURL>/<company-slug>/<file>. Retries and rate limits are applied by the
// runner; Fetch only classifies the response.
type HTTPCollaborator struct {
	BaseURL   string
	Src       model.Source
	Client    *http.Client
	UserAgent string
}

// HTTPCollaborators returns one HTTPCollaborator per source sharing one client.
func HTTPCollaborators(baseURL string, sources []model.Source, timeout time.Duration) []Collaborator {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	out := make([]Collaborator, 0, len(sources))
	for _, src := range sources {
		out = append(out, &HTTPCollaborator{BaseURL: baseURL, Src: src, Client: client})
	}
	return out
}

func (h *HTTPCollaborator) Source() model.Source { return h.Src }

func (h *HTTPCollaborator) Fetch(ctx context.Context, companyID string) (model.Payload, error) {
	name, ok := fileNames[h.Src]
	if !ok {
		return nil, eris.Errorf("collect: no document for source %q", h.Src)
	}
	slug, err := Slug(companyID)
	if err != nil {
		return nil, err
	}
	docURL, err := url.JoinPath(h.BaseURL, slug, name)
	if err != nil {
		return nil, eris.Wrapf(err, "collect: build url for %s", h.Src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "collect: create request")
	}
	ua := h.UserAgent
	if ua == "" {
		ua = "marketmind/1.0"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "collect: get %s", docURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.TransientAfter(
			eris.Errorf("collect: http 429 from %s", docURL), retryAfterHeader(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return nil, resilience.Transient(eris.Errorf("collect: http %d from %s", resp.StatusCode, docURL))
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Errorf("collect: no %s data for %s", h.Src, companyID)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("collect: unexpected status %d from %s", resp.StatusCode, docURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, resilience.Transient(eris.Wrapf(err, "collect: read %s", docURL))
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		return nil, eris.Errorf("collect: %s document for %s is empty", h.Src, companyID)
	}
	return model.DecodePayload(h.Src, trimmed)
}

// retryAfterHeader reads a Retry-After value given in seconds.
func retryAfterHeader(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
