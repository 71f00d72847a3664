package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/pkg/cache"
)

// Asset fetch defaults.
const (
	DefaultFetchTimeout   = 10 * time.Second
	DefaultFetchCacheSize = 32
	DefaultMaxAssetSize   = 8 << 20
)

// Content is one element of a tool reply flattened for a client: either
// an image fetched from the device or the result text.
type Content struct {
	Type    string // "image" or "text"
	AssetID string
	Mime    string
	Data    []byte
	Text    string
}

// AssetFetcher downloads blobs referenced by observation assets. Blobs are
// cached by asset id; assets without an id are always fetched.
type AssetFetcher struct {
	client  *http.Client
	cache   *cache.LRU[[]byte]
	logger  *slog.Logger
	now     func() time.Time
	maxSize int64
}

// FetcherOption configures an AssetFetcher.
type FetcherOption func(*AssetFetcher)

// WithHTTPClient replaces the default client, whose timeout is
// DefaultFetchTimeout.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *AssetFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithFetchLogger sets the fetcher logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *AssetFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMaxAssetSize bounds a single download.
func WithMaxAssetSize(n int64) FetcherOption {
	return func(f *AssetFetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// NewAssetFetcher creates a fetcher with an LRU of cacheSize blobs. A
// non-positive size uses DefaultFetchCacheSize.
func NewAssetFetcher(cacheSize int, opts ...FetcherOption) (*AssetFetcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultFetchCacheSize
	}
	f := &AssetFetcher{
		client:  &http.Client{Timeout: DefaultFetchTimeout},
		logger:  slog.Default(),
		now:     time.Now,
		maxSize: DefaultMaxAssetSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	lru, err := cache.New[[]byte](cacheSize, 0)
	if err != nil {
		return nil, err
	}
	f.cache = lru
	return f, nil
}

// CacheBust appends a millisecond timestamp query parameter so proxies and
// the device never serve a stale frame.
func CacheBust(rawURL string, now time.Time) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "t=" + strconv.FormatInt(now.UnixMilli(), 10)
}

// Fetch downloads the blob behind a. Only absolute http(s) URLs are
// accepted.
func (f *AssetFetcher) Fetch(ctx context.Context, a observation.Asset) ([]byte, error) {
	if a.AssetID != "" {
		if data, ok := f.cache.Get(a.AssetID); ok {
			return data, nil
		}
	}
	if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: asset url %q is not absolute http", errors.ErrInvalidData, a.URL),
			"AssetFetcher", "Fetch", "check url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, CacheBust(a.URL, f.now()), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "AssetFetcher", "Fetch", "build request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "AssetFetcher", "Fetch", "get "+a.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 500 {
			return nil, errors.WrapTransient(err, "AssetFetcher", "Fetch", "get "+a.URL)
		}
		return nil, errors.WrapInvalid(err, "AssetFetcher", "Fetch", "get "+a.URL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, errors.WrapTransient(err, "AssetFetcher", "Fetch", "read body")
	}
	if int64(len(data)) > f.maxSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: asset exceeds %d bytes", errors.ErrInvalidData, f.maxSize),
			"AssetFetcher", "Fetch", "read body")
	}

	if a.AssetID != "" {
		_, _ = f.cache.Set(a.AssetID, data)
	}
	return data, nil
}

// Contents flattens obs into image contents followed by its text. Image
// assets that fail to download are logged and skipped.
func (f *AssetFetcher) Contents(ctx context.Context, obs observation.Observation) []Content {
	var out []Content
	for _, a := range obs.Result.Assets {
		mime := strings.ToLower(a.Mime)
		if mime == "" {
			mime = "application/octet-stream"
		}
		if a.Kind != "image" || !strings.HasPrefix(mime, "image/") || a.URL == "" {
			continue
		}
		data, err := f.Fetch(ctx, a)
		if err != nil {
			f.logger.Warn("Asset fetch failed", "url", a.URL, "error", err)
			continue
		}
		f.logger.Debug("Asset fetched", "url", a.URL, "bytes", len(data))
		out = append(out, Content{Type: "image", AssetID: a.AssetID, Mime: mime, Data: data})
	}
	if obs.Result.Text != "" {
		out = append(out, Content{Type: "text", Text: obs.Result.Text})
	}
	return out
}
