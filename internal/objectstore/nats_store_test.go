// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-service/internal/objectstore"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestStore_UploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-artifacts")
	require.NoError(t, err)

	ctx := context.Background()
	key := "chapters/my-book/chapter-1.txt"
	uploadData := []byte("The first chapter begins. It also ends.")

	err = store.Upload(ctx, key, uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)

	require.Equal(t, uploadData, downloadData)
}

func TestStore_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)

	ctx := context.Background()
	err = first.Upload(ctx, "cover.jpg", []byte("jpeg bytes"))
	require.NoError(t, err)

	// A second construction against the same bucket must bind, not fail,
	// and see the objects already stored there.
	second, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)

	data, err := second.Download(ctx, "cover.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("jpeg bytes"), data)
}

func TestStore_DownloadMissingKey(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "empty-bucket")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "no-such-key")
	require.Error(t, err)
}
