package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openadx/adexchange/internal/domain"
)

// AuditArchiveStore provides read access to audit records for archival
// purposes. The Postgres AuditStore satisfies it; the archiver only needs
// the one time-ranged query it actually calls.
type AuditArchiveStore interface {
	// ListBefore returns all audit records cleared strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClearedAuction, error)
}

// archivePrefix is the key prefix under which all archive files live.
const archivePrefix = "archive/"

// ArchiveImpl implements domain.Archiver by querying the audit store for
// old records, serializing them to JSONL, and uploading the result to S3.
// Every upload is verified by a head request before it is reported
// successful, so a record is never considered archived on the strength of
// the put alone.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// against verified archives only.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  AuditArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit AuditArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		audit:  audit,
	}
}

// ArchiveAuditRecords queries all audit records before the cutoff,
// serializes them to JSONL, uploads the file to S3 at
// archive/audit/YYYY-MM.jsonl, and verifies the object landed. It returns
// the count of archived records.
func (a *ArchiveImpl) ArchiveAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit verify %s: %w", path, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive audit verify %s: object missing after upload", path)
	}

	return int64(len(records)), nil
}

// ListArchives returns metadata for every stored archive file.
func (a *ArchiveImpl) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	return infos, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", archivePrefix, kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
