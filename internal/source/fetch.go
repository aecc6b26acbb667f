package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	appLog "itevents/internal/log"
)

// PageFetcher returns the HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTPFetcher fetches pages with conditional requests (ETag / Last-Modified)
// backed by a disk cache. A cached body is served when the network fails.
type HTTPFetcher struct {
	client   *resty.Client
	cacheDir string
}

// NewHTTPFetcher creates a fetcher. An empty cacheDir disables caching.
func NewHTTPFetcher(timeout time.Duration, userAgent, cacheDir string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "ru,en;q=0.8")
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &HTTPFetcher{client: client, cacheDir: cacheDir}
}

// FetchPage fetches one page, honoring ETag and Last-Modified.
func (f *HTTPFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("page URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(url)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.html"))
	}

	req := f.client.R().SetContext(ctx)
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.SetHeader("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.SetHeader("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := req.Get(url)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("page fetch network error, using cached body", err, "url", redactURL(url))
			return cachedBody, nil
		}
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Body()
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header().Get("ETag"),
				LastModified: resp.Header().Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("page cache save failed", err, "url", redactURL(url))
			}
		}
		appLog.Debug("page fetch success", "url", redactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("page not modified; using cache", "url", redactURL(url))
		return cachedBody, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("page fetch non-OK, using cached body", errors.New(resp.Status()), "url", redactURL(url))
			return cachedBody, nil
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
}

func (f *HTTPFetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.html"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host for logging.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "page://...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
