package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/storage/gcs"
)

const bucketName = "test-bucket"

// newTestStore points a storage client at a fake GCS JSON API.
func newTestStore(t *testing.T, handler http.Handler, prefix string) *gcs.SnapshotStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: bucketName, Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestSaveUploadsSnapshot(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucketName))
		assert.Equal(t, "runs/alza.json", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"znacka": "Acer"`)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{ "name": "runs/alza.json", "bucket": "`+bucketName+`" }`)
	})

	store := newTestStore(t, handler, "/runs/")
	uri, err := store.Save(context.Background(), "alza", []crawler.Record{{crawler.FieldBrand: "Acer"}})
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/runs/alza.json", uri)
}

func TestSaveServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler, "")
	_, err := store.Save(context.Background(), "alza", nil)
	assert.Error(t, err)
}

func TestSaveRejectsBadSource(t *testing.T) {
	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})

	store := newTestStore(t, handler, "")
	_, err := store.Save(context.Background(), "a/b", nil)
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: bucketName})
	assert.Error(t, err)

	client, err := gstorage.NewClient(context.Background(), option.WithEndpoint("http://127.0.0.1:1"), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}
