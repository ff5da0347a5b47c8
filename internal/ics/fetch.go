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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "taskcal/internal/log"
)

// Source is one ICS subscription.
type Source struct {
	ID  string
	URL string
}

// FetchResult is the body of one feed, fresh or from the disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests (ETag / Last-Modified)
// and keeps the last good body on disk. When the origin fails the cached body
// is served instead.
type Fetcher struct {
	client      *http.Client
	cacheDir    string
	parallelism int
}

func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:      &http.Client{Timeout: 15 * time.Second},
		cacheDir:    cacheDir,
		parallelism: 4,
	}
}

// FetchAll fetches sources concurrently. Results keep the order of sources;
// failed sources are left out and reported in errs.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	slots := make([]*FetchResult, len(sources))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, src := range sources {
		g.Go(func() error {
			res, err := f.FetchOne(gctx, src)
			if err != nil {
				appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
				mu.Lock()
				errs = append(errs, fmt.Errorf("fetch %s: %w", src.ID, err))
				mu.Unlock()
				return nil
			}
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]FetchResult, 0, len(sources))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, errs
}

// FetchOne fetches a single feed.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	dir := f.cacheDirFor(src.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(reason error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("ics fetch degraded, using cached body", "id", src.ID, "url", redactURL(src.URL), "err", reason)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		next := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := writeCache(dir, next, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", src.ID)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// writeCache stores the body before the metadata so meta never points at a
// missing body.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed secret tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
