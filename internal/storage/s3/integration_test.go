//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/querypilot/internal/config"
	"github.com/duckmesh/querypilot/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("QUERYPILOT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("QUERYPILOT_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, config.ObjectStoreConfig{
		Endpoint:         endpoint,
		Region:           envOr("QUERYPILOT_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("QUERYPILOT_TEST_S3_BUCKET", "querypilot-it"),
		AccessKeyID:      envOr("QUERYPILOT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("QUERYPILOT_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key, err := storage.BuildArchiveKey(uuid.NewString(), time.Now(), 0)
	if err != nil {
		t.Fatalf("BuildArchiveKey() error = %v", err)
	}
	payload := []byte("querypilot-integration")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	stat, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Size != int64(len(payload)) {
		t.Fatalf("Stat().Size = %d, want %d", stat.Size, len(payload))
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	read, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(read, payload) {
		t.Fatalf("Get() payload = %q, want %q", read, payload)
	}

	if _, err := store.Stat(ctx, "runs/1999-01-01/missing/query-0.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() missing error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
