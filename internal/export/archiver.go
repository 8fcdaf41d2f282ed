package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/storage"
)

// Archiver writes sub-query results to an object store as parquet files.
type Archiver struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(store storage.ObjectStore, logger *slog.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger, now: time.Now}, nil
}

func (a *Archiver) ArchiveResult(ctx context.Context, runID string, queryIndex int, result executor.Result) (string, error) {
	key, err := storage.BuildArchiveKey(runID, a.now(), queryIndex)
	if err != nil {
		return "", fmt.Errorf("build archive key: %w", err)
	}
	encoded, err := EncodeResultParquet(runID, queryIndex, result)
	if err != nil {
		return "", err
	}
	info, err := a.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			storage.MetaRunID:      runID,
			storage.MetaQueryIndex: strconv.Itoa(queryIndex),
			storage.MetaRows:       strconv.FormatInt(encoded.RecordCount, 10),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive query %d: %w", queryIndex, err)
	}
	a.logger.DebugContext(ctx, "result_archived",
		slog.String("run_id", runID),
		slog.String("key", key),
		slog.Int64("rows", encoded.RecordCount),
		slog.Int64("bytes", info.Size),
	)
	return key, nil
}

// Open streams an archived result back. Keys outside the runs/ layout are rejected.
func (a *Archiver) Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if _, err := storage.ParseArchiveKey(key); err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return body, info, nil
}
