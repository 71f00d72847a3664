package controller_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/controller"
	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/observation"
)

func TestCacheBust(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "http://d/last.jpg?t=1700000000123", controller.CacheBust("http://d/last.jpg", now))
	assert.Equal(t, "http://d/a?x=1&t=1700000000123", controller.CacheBust("http://d/a?x=1", now))
}

func TestAssetFetcher_FetchCachesByID(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("t") == "" {
			http.Error(w, "missing cache bust", http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/assets/a1":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpegbytes"))
		case "/boom":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := controller.NewAssetFetcher(4)
	require.NoError(t, err)

	a := observation.Asset{AssetID: "a1", Kind: "image", Mime: "image/jpeg", URL: srv.URL + "/assets/a1"}
	data, err := f.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))

	data, err = f.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))
	assert.Equal(t, int32(1), hits.Load(), "second fetch served from cache")

	_, err = f.Fetch(context.Background(), observation.Asset{URL: srv.URL + "/missing"})
	assert.True(t, errors.IsInvalid(err))

	_, err = f.Fetch(context.Background(), observation.Asset{URL: srv.URL + "/boom"})
	assert.True(t, errors.IsTransient(err))

	_, err = f.Fetch(context.Background(), observation.Asset{URL: "/assets/a1"})
	assert.True(t, errors.IsInvalid(err), "relative urls are rejected")
}

func TestAssetFetcher_MaxSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f, err := controller.NewAssetFetcher(1, controller.WithMaxAssetSize(16))
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), observation.Asset{URL: srv.URL})
	assert.True(t, errors.IsInvalid(err))
}

func TestAssetFetcher_Contents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.jpg" {
			_, _ = w.Write([]byte{0xff, 0xd8})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := controller.NewAssetFetcher(0)
	require.NoError(t, err)

	obs := observation.NewBuilder().
		Success("captured").
		AddAsset(observation.Asset{AssetID: "x", Kind: "image", Mime: "IMAGE/JPEG", URL: srv.URL + "/ok.jpg"}).
		AddAsset(observation.Asset{AssetID: "y", Kind: "image", Mime: "image/jpeg", URL: srv.URL + "/gone.jpg"}).
		AddAsset(observation.Asset{Kind: "event", Extra: map[string]any{"value": 1}}).
		Build()

	contents := f.Contents(context.Background(), obs)
	require.Len(t, contents, 2)
	assert.Equal(t, "image", contents[0].Type)
	assert.Equal(t, "image/jpeg", contents[0].Mime)
	assert.Equal(t, "x", contents[0].AssetID)
	assert.Equal(t, []byte{0xff, 0xd8}, contents[0].Data)
	assert.Equal(t, controller.Content{Type: "text", Text: "captured"}, contents[1])
}
