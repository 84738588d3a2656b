package gcs

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "artifacts"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "/", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
}

func TestURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://bucket/scrapes/site/summary.json", URI("bucket", "/scrapes/site/summary.json"))
}
