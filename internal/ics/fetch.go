package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "maginkcal/internal/log"
)

// Source is one ICS subscription.
type Source struct {
	ID  string
	URL string
}

// FetchResult is the payload of one feed, fresh or cached.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// validators are the HTTP cache validators stored next to a cached body.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// feedCache is the on-disk copy of one feed: <dir>/body.ics and
// <dir>/meta.json.
type feedCache struct {
	dir string
}

func (c feedCache) load() (validators, []byte) {
	var v validators
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		if json.Unmarshal(data, &v) != nil {
			v = validators{}
		}
	}
	body, _ := os.ReadFile(filepath.Join(c.dir, "body.ics"))
	return v, body
}

func (c feedCache) store(v validators, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	// body 를 먼저 써서 meta 가 없는 body 를 가리키지 않게 한다.
	if err := os.WriteFile(filepath.Join(c.dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	v.StoredAt = time.Now().UTC()
	data, err := json.MarshalIndent(&v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "meta.json"), data, 0o600)
}

// Fetcher downloads ICS feeds with conditional requests (ETag /
// Last-Modified) backed by a disk cache. When the server fails and a cached
// copy exists, the cached copy is served.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewFetcher creates a Fetcher caching under cacheDir, e.g.
// "/var/lib/maginkcal/ics-cache".
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) cacheFor(rawURL string) feedCache {
	sum := sha256.Sum256([]byte(rawURL))
	return feedCache{dir: filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))}
}

// FetchOne downloads src, reusing the cached body on 304 and falling back
// to it on network errors or unexpected statuses.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}
	cache := f.cacheFor(src.URL)
	prev, cached := cache.load()
	where := redactURL(src.URL)

	fallback := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch failed, using cached body", cause, "id", src.ID, "url", where)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("ics: build request: %w", err)
	}
	if len(cached) > 0 {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", where)
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, err
		}
		return fallback(fmt.Errorf("ics: request %s: %w", where, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(fmt.Errorf("ics: read body %s: %w", where, err))
		}
		next := validators{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := cache.store(next, body); err != nil {
			appLog.Warn("ics cache save failed", err, "id", src.ID, "url", where)
		}
		appLog.Debug("ics fetched", "id", src.ID, "url", where, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, fmt.Errorf("ics: %s answered 304 but nothing is cached", where)
		}
		appLog.Debug("ics not modified, using cache", "id", src.ID, "url", where)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("ics: unexpected status %s from %s", resp.Status, where))
	}
}

// redactURL keeps only scheme and host of an ICS URL; private feed URLs
// carry their secret in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
