package core

import (
	"context"
	"log/slog"

	"github.com/clinicops/intake/internal/store"
)

// DefaultChunkSize is the number of rows sent to the store per upsert.
const DefaultChunkSize = 500

// BulkWriter upserts many rows in fixed-size chunks. Each chunk commits or
// fails on its own; a failed chunk does not undo earlier chunks and does
// not stop later ones.
type BulkWriter struct {
	store     store.Store
	chunkSize int
	logger    *slog.Logger
}

// NewBulkWriter creates a writer. A non-positive size uses DefaultChunkSize.
func NewBulkWriter(st store.Store, size int, logger *slog.Logger) *BulkWriter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkWriter{store: st, chunkSize: size, logger: logger}
}

// ChunkSize returns the rows per chunk.
func (w *BulkWriter) ChunkSize() int {
	return w.chunkSize
}

// Write upserts rows into table by conflictKey. Once ctx is done the
// remaining chunks are reported as failed without being sent.
func (w *BulkWriter) Write(ctx context.Context, table string, rows []store.Row, conflictKey []string) BulkResult {
	result := BulkResult{Table: table}

	for start, index := 0, 0; start < len(rows); start, index = start+w.chunkSize, index+1 {
		end := min(start+w.chunkSize, len(rows))
		chunk := rows[start:end]
		cr := ChunkResult{Index: index, Rows: len(chunk)}

		err := ctx.Err()
		if err == nil {
			err = w.store.Upsert(ctx, table, chunk, conflictKey)
		}
		if err != nil {
			cr.Error = err.Error()
			w.logger.Warn("bulk chunk failed",
				slog.String("table", table),
				slog.Int("chunk", index),
				slog.Int("rows", len(chunk)),
				slog.String("error", err.Error()),
			)
		} else {
			result.Written += len(chunk)
		}
		result.Chunks = append(result.Chunks, cr)
	}
	return result
}
