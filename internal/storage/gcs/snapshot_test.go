package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	appstore "github.com/JakeFAU/sitetree-crawler/internal/store"
)

func newTestProvider(t *testing.T, handler http.Handler) *ObjectProvider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	p, err := New(client, Config{Bucket: "crawl-bucket", Object: "progress/crawl_progress.json"}, nil)
	require.NoError(t, err)
	return p
}

func TestSaveUploadsObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/crawl-bucket/o")
		assert.Equal(t, "progress/crawl_progress.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"ex.com":{}}`)
		fmt.Fprintln(w, `{"name":"progress/crawl_progress.json","bucket":"crawl-bucket"}`)
	})

	p := newTestProvider(t, handler)
	require.NoError(t, p.Save(context.Background(), []byte(`{"ex.com":{}}`)))
	assert.Equal(t, "gs://crawl-bucket/progress/crawl_progress.json", p.Location())
}

func TestSaveReportsServerError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.Error(t, p.Save(context.Background(), []byte(`{}`)))
}

func TestLoadMissingObject(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err := p.Load(context.Background())
	require.ErrorIs(t, err, appstore.ErrNotFound)
}

func TestLoadReadsObject(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "crawl_progress.json")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ex.com":{"visitedUrls":["https://ex.com"]}}`)
	}))
	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ex.com":{"visitedUrls":["https://ex.com"]}}`, string(data))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b", Object: "o"}, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = New(client, Config{Object: "o"}, nil)
	require.ErrorContains(t, err, "bucket")
	_, err = New(client, Config{Bucket: "b"}, nil)
	require.ErrorContains(t, err, "object")
}
