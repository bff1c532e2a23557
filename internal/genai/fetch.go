package genai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/parleyhq/parley/internal/apperr"
)

// maxFetchBytes caps how much of an uploaded attachment is pulled back
// for inlining. The vision API rejects larger payloads anyway.
const maxFetchBytes = 20 << 20

// HTTPFetcher downloads uploaded attachment bytes for vision turns.
type HTTPFetcher struct {
	httpClient *http.Client
}

func NewFetcher() *HTTPFetcher {
	return &HTTPFetcher{httpClient: http.DefaultClient}
}

// Fetch retrieves the object at url. Failures are generation failures:
// a turn that cannot see its image cannot be generated.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Generation("build fetch request", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Generation(fmt.Sprintf("fetch %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Generation(fmt.Sprintf("fetch %s: http %d", url, resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, apperr.Generation(fmt.Sprintf("read %s", url), err)
	}
	if len(data) > maxFetchBytes {
		return nil, apperr.Generation(fmt.Sprintf("fetch %s: larger than %d bytes", url, maxFetchBytes), nil)
	}
	return data, nil
}
