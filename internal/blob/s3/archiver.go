package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"
	// Uploads above this size go through the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SoldItemSource lists settled items for archival.
type SoldItemSource interface {
	ListSoldBefore(ctx context.Context, before time.Time) ([]domain.MarketItem, error)
}

// Archiver implements domain.Archiver. Sold items are immutable, so each
// calendar month (UTC) is written once, as archive/sold_items/YYYY-MM.jsonl,
// after the month has ended. Items stay in the ledger store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	items  SoldItemSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, items SoldItemSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		items:  items,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSoldItems uploads every complete month of sales that ends at or
// before the cutoff and is not archived yet. It returns the number of items
// written.
func (a *Archiver) ArchiveSoldItems(ctx context.Context, before time.Time) (int64, error) {
	cutoff := monthStart(before)
	items, err := a.items.ListSoldBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sold items query: %w", err)
	}

	// ListSoldBefore is ordered by item id, not sale time.
	months := map[string][]domain.MarketItem{}
	var order []string
	for _, item := range items {
		if item.SoldAt == nil {
			continue
		}
		m := item.SoldAt.UTC().Format("2006-01")
		if _, ok := months[m]; !ok {
			order = append(order, m)
		}
		months[m] = append(months[m], item)
	}

	var total int64
	for _, m := range order {
		path := archivePath("sold_items", m)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive sold items: %w", err)
		}
		if exists {
			a.logger.DebugContext(ctx, "month already archived", slog.String("path", path))
			continue
		}

		buf, err := marshalJSONL(months[m])
		if err != nil {
			return total, fmt.Errorf("s3blob: archive sold items marshal: %w", err)
		}
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive sold items upload: %w", err)
		}

		count := int64(len(months[m]))
		total += count
		a.logger.InfoContext(ctx, "archived sold items",
			slog.String("path", path),
			slog.Int64("count", count),
		)
		a.auditLog(ctx, map[string]any{
			"path":   path,
			"count":  count,
			"before": cutoff.Format(time.RFC3339),
		})
	}
	return total, nil
}

func (a *Archiver) auditLog(ctx context.Context, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, "archive.sold_items", detail); err != nil {
		a.logger.WarnContext(ctx, "failed to write audit log", slog.String("error", err.Error()))
	}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// archivePath builds keys like archive/sold_items/2024-03.jsonl.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
