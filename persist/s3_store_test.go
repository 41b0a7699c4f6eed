package persist

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
)

// TestS3Store spins up a MinIO container unless S3_MINIO_ENDPOINT points
// at an existing S3-compatible endpoint.
func TestS3Store(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	endpoint := os.Getenv("S3_MINIO_ENDPOINT")
	if endpoint == "" {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     testAccessKey,
				"MINIO_ROOT_PASSWORD": testSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		}

		minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			t.Fatalf("failed to start MinIO container: %v", err)
		}
		t.Cleanup(func() {
			if err := minioContainer.Terminate(ctx); err != nil {
				t.Logf("warning: failed to terminate MinIO container: %v", err)
			}
		})

		mappedPort, err := minioContainer.MappedPort(ctx, "9000")
		if err != nil {
			t.Fatalf("failed to get mapped port: %v", err)
		}
		endpoint = fmt.Sprintf("localhost:%s", mappedPort.Port())
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	store, err := NewS3Store(S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		Bucket:          "stronghold-test",
		KeyPrefix:       "test",
		UseSSL:          false,
	})
	require.NoError(t, err)
	defer store.Close()

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, store.Ping())
	})

	t.Run("roundtrip", func(t *testing.T) {
		data := []byte("opaque encrypted container bytes")
		require.NoError(t, store.SaveSnapshot("snap-1", data))

		out, err := store.LoadSnapshot("snap-1")
		require.NoError(t, err)
		assert.Equal(t, data, out)

		replacement := []byte("replacement container")
		require.NoError(t, store.SaveSnapshot("snap-1", replacement))
		out, err = store.LoadSnapshot("snap-1")
		require.NoError(t, err)
		assert.Equal(t, replacement, out)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot("snap-2", []byte("second")))

		infos, err := store.ListSnapshots()
		require.NoError(t, err)
		require.Len(t, infos, 2)

		ids := []string{infos[0].ID, infos[1].ID}
		assert.Contains(t, ids, "snap-1")
		assert.Contains(t, ids, "snap-2")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.LoadSnapshot("missing")
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
		assert.ErrorIs(t, store.DeleteSnapshot("missing"), ErrSnapshotNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteSnapshot("snap-2"))
		_, err := store.LoadSnapshot("snap-2")
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("invalid ids", func(t *testing.T) {
		for _, id := range []string{"", "../escape", "a/b"} {
			assert.Error(t, store.SaveSnapshot(id, []byte("data")), "id %q", id)
		}
	})
}

func TestNewS3StoreValidation(t *testing.T) {
	_, err := NewS3Store(S3Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
