package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/0xd3bs/buysmart/internal/model"
)

// Lister is the slice of the position store the exporter reads.
type Lister interface {
	List(ctx context.Context) ([]model.Position, error)
}

// BlobWriter stores one object.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Document is the JSON layout of an export.
type Document struct {
	ExportedAt   time.Time        `json:"exported_at"`
	ClosedBefore time.Time        `json:"closed_before"`
	Count        int              `json:"count"`
	Positions    []model.Position `json:"positions"`
}

// Exporter writes CLOSED positions to blob storage.
type Exporter struct {
	store  Lister
	writer BlobWriter
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewExporter creates an exporter writing under prefix.
func NewExporter(st Lister, w BlobWriter, prefix string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: st, writer: w, prefix: prefix, now: time.Now, logger: logger}
}

// ExportClosed uploads every position closed strictly before `before` as one
// JSON document at {prefix}/closed-YYYYMMDD-HHMMSS.json. Nothing is written
// when there is nothing to export; the key is then empty.
func (e *Exporter) ExportClosed(ctx context.Context, before time.Time) (string, int, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("archive: list positions: %w", err)
	}

	closed := make([]model.Position, 0, len(all))
	for _, p := range all {
		if p.Status == model.StatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			closed = append(closed, p)
		}
	}
	if len(closed) == 0 {
		e.logger.InfoContext(ctx, "archive: nothing to export", slog.Time("before", before))
		return "", 0, nil
	}

	now := e.now().UTC()
	doc := Document{
		ExportedAt:   now,
		ClosedBefore: before.UTC(),
		Count:        len(closed),
		Positions:    closed,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("archive: encode export: %w", err)
	}

	key := path.Join(e.prefix, "closed-"+now.Format("20060102-150405")+".json")
	if err := e.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", 0, err
	}

	e.logger.InfoContext(ctx, "archive: exported closed positions",
		slog.String("key", key),
		slog.Int("count", len(closed)),
	)
	return key, len(closed), nil
}

var _ BlobWriter = (*S3Writer)(nil)
