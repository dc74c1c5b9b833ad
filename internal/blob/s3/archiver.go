package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
)

const archiveContentType = "application/x-ndjson"

// TradeArchiveStore is the slice of the trade store the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// OpportunityArchiveStore is the slice of the opportunity store the
// archiver needs.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// Archiver implements domain.Archiver: it queries rows older than a cutoff,
// serialises them to JSONL, uploads the file, and confirms the object landed
// before reporting success. Deleting the archived rows from Postgres is the
// caller's step, taken only after a successful return.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	opps   OpportunityArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. The reader must see the same bucket the
// writer uploads to; it is how uploads are verified.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	opps OpportunityArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		opps:   opps,
		audit:  audit,
	}
}

// ArchiveTrades uploads all trades recorded strictly before the cutoff and
// returns how many were archived. Zero rows uploads nothing.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	count := int64(len(trades))
	if err := a.audit.Log(ctx, "archive_trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	return count, nil
}

// ArchiveOpportunities uploads all opportunities detected strictly before
// the cutoff and returns how many were archived.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	count := int64(len(opps))
	if err := a.audit.Log(ctx, "archive_opportunities", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
	}

	return count, nil
}

// upload puts the payload and reads it back via HeadObject. The pruning
// step downstream deletes rows on the strength of this return, so an upload
// the store cannot see back is an error, not a success.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: verify %s: object missing after upload", path)
	}
	return nil
}

// archivePath builds the object key from the cutoff instant:
//
//	archive/trades/2026-08-25T03-00-00.jsonl
//
// Every run prunes what it archived, so batches are disjoint and each needs
// its own object. A coarser partition would let a later run overwrite an
// earlier batch.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T15-04-05"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
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
