package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

// AssetPath is the URL prefix assets are served under.
const AssetPath = "/assets/"

// Asset is one stored blob.
type Asset struct {
	ID       string
	MIME     string
	Data     []byte
	StoredAt time.Time
}

// AssetStore keeps the most recent tool outputs in memory so observations
// can reference them by a relative URL. It is bounded; the oldest asset is
// evicted when full.
type AssetStore struct {
	maxBytes int
	maxCount int

	mu     sync.RWMutex
	assets map[string]Asset
	order  []string
}

// NewAssetStore creates a store holding at most maxCount assets of at most
// maxBytes each. Non-positive values select the defaults.
func NewAssetStore(maxCount, maxBytes int) *AssetStore {
	if maxCount <= 0 {
		maxCount = DefaultMaxAssetCount
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAssetBytes
	}
	return &AssetStore{
		maxBytes: maxBytes,
		maxCount: maxCount,
		assets:   make(map[string]Asset),
	}
}

// Put stores data under a fresh id and returns the id and relative URL.
func (s *AssetStore) Put(mime string, data []byte) (id, url string, err error) {
	id = uuid.NewString()
	url, err = s.PutNamed(id, mime, data)
	return id, url, err
}

// PutNamed stores data under id, replacing any previous asset with that
// id, and returns the relative URL.
func (s *AssetStore) PutNamed(id, mime string, data []byte) (string, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: asset id %q", errors.ErrInvalidData, id),
			"AssetStore", "PutNamed", "check id")
	}
	if len(data) > s.maxBytes {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %d > %d bytes", errors.ErrPayloadTooLarge, len(data), s.maxBytes),
			"AssetStore", "PutNamed", "check size")
	}

	blob := make([]byte, len(data))
	copy(blob, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[id]; exists {
		s.removeFromOrder(id)
	}
	s.assets[id] = Asset{ID: id, MIME: mime, Data: blob, StoredAt: time.Now()}
	s.order = append(s.order, id)

	for len(s.order) > s.maxCount {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.assets, oldest)
	}
	return AssetPath + id, nil
}

// Get returns the asset stored under id.
func (s *AssetStore) Get(id string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	return a, ok
}

// Len returns the number of stored assets.
func (s *AssetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *AssetStore) removeFromOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// ServeHTTP serves GET /assets/{id}.
func (s *AssetStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = strings.TrimPrefix(r.URL.Path, AssetPath)
	}
	a, ok := s.Get(id)
	if !ok {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}
	mime := a.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}
