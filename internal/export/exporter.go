package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/sqlchat/sqlchat/internal/storage"
)

const ContentType = "application/vnd.apache.parquet"

type Exporter struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

func NewExporter(store storage.ObjectStore, logger *slog.Logger) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger}, nil
}

// Export encodes the result table and stores it under the message's export
// key, which it returns.
func (e *Exporter) Export(ctx context.Context, sessionID, messageID string, columns []string, rows [][]any) (string, error) {
	key, err := storage.ExportKey(sessionID, messageID)
	if err != nil {
		return "", err
	}
	encoded, err := EncodeResultToParquet(columns, rows)
	if err != nil {
		return "", err
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: ContentType})
	if err != nil {
		return "", err
	}
	e.logger.Debug("export stored", "key", key, "rows", encoded.RowCount, "bytes", info.Size)
	return key, nil
}
