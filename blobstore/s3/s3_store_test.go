package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/fieldq/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_S3Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("Skipping S3 integration test: S3_BUCKET not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	prefix := fmt.Sprintf("test-fieldq-%d/", time.Now().UnixNano())
	store := NewStore(s3.NewFromConfig(cfg), bucket, prefix)

	t.Run("RunsThenMarker", func(t *testing.T) {
		run := make([]byte, 6*1024*1024)
		_, _ = rand.Read(run)

		w, err := store.Create(ctx, "q/run-000001")
		require.NoError(t, err)
		_, err = w.Write(run)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		// A failed run leaves neither an object nor multipart parts.
		w, err = store.Create(ctx, "q/run-000002")
		require.NoError(t, err)
		_, err = w.Write(run)
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		require.NoError(t, store.Put(ctx, "q/DONE", []byte("{}")))

		names, err := store.List(ctx, "q/")
		require.NoError(t, err)
		assert.Equal(t, []string{"q/DONE", "q/run-000001"}, names)

		got, err := blobstore.ReadAll(ctx, store, "q/run-000001")
		require.NoError(t, err)
		assert.Equal(t, run, got)

		for _, name := range names {
			require.NoError(t, store.Delete(ctx, name))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Open(ctx, "nonexistent")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
