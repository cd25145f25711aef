package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tiltvault/vaultd/internal/crypto"
	"github.com/tiltvault/vaultd/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow interfaces required by the archiver. The Postgres stores satisfy the
// store interfaces implicitly; the blob interfaces let tests substitute an
// in-memory bucket.
// ---------------------------------------------------------------------------

// PositionExportStore provides read access to positions for archival.
type PositionExportStore interface {
	ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error)
}

// AuditExportStore provides read access to the audit log plus the ability to
// record the archive event itself.
type AuditExportStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// BlobWriter uploads objects to the bucket.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves and probes objects in the bucket.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = int64(8 * 1024 * 1024)

// Archiver exports closed positions and old audit rows to the bucket as
// JSONL, one file per year-month of the cutoff. When a passphrase is
// configured every export is sealed before upload, so the bucket never holds
// plaintext cardholder-adjacent data.
//
// Deletion of the archived rows from PostgreSQL is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer     BlobWriter
	reader     BlobReader
	positions  PositionExportStore
	audit      AuditExportStore
	passphrase string
	log        *slog.Logger
}

// NewArchiver creates an Archiver. An empty passphrase disables sealing.
func NewArchiver(
	writer BlobWriter,
	reader BlobReader,
	positions PositionExportStore,
	audit AuditExportStore,
	passphrase string,
	log *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:     writer,
		reader:     reader,
		positions:  positions,
		audit:      audit,
		passphrase: passphrase,
		log:        log.With("component", "archiver"),
	}
}

// ArchivePositions exports all positions in the given status created at or
// before the cutoff. Returns the number of records archived; zero with a nil
// error means there was nothing to do or the export already exists.
func (a *Archiver) ArchivePositions(ctx context.Context, status domain.PositionStatus, before time.Time) (int64, error) {
	path := archivePath("positions/"+string(status), before, a.passphrase != "")

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions probe: %w", err)
	}
	if exists {
		a.log.Debug("export already present, skipping", "path", path)
		return 0, nil
	}

	positions, err := a.positions.ListByStatus(ctx, status, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	if err := a.upload(ctx, path, positions); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions: %w", err)
	}

	count := int64(len(positions))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"status": string(status),
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit exports all audit entries created at or before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("audit", before, a.passphrase != "")

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit probe: %w", err)
	}
	if exists {
		a.log.Debug("export already present, skipping", "path", path)
		return 0, nil
	}

	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := a.upload(ctx, path, entries); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit audit log: %w", err)
	}
	return count, nil
}

// Sweep runs one full archive pass with a cutoff of now minus the retention
// window: closed and failed positions plus the audit log.
func (a *Archiver) Sweep(ctx context.Context, retention time.Duration) error {
	before := time.Now().Add(-retention)

	for _, status := range []domain.PositionStatus{domain.PositionClosed, domain.PositionFailed} {
		n, err := a.ArchivePositions(ctx, status, before)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("archived positions", "status", string(status), "count", n)
		}
	}

	n, err := a.ArchiveAudit(ctx, before)
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("archived audit entries", "count", n)
	}
	return nil
}

// ReadExport downloads an export and returns the JSONL payload, unsealing it
// first when a passphrase is configured. Intended for operator restore and
// verification tooling.
func (a *Archiver) ReadExport(ctx context.Context, path string) ([]byte, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read export %s: %w", path, err)
	}

	if a.passphrase == "" {
		return raw, nil
	}
	plain, err := crypto.Open(raw, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("s3blob: unseal export %s: %w", path, err)
	}
	return plain, nil
}

// upload serialises records to JSONL, seals when configured, and writes the
// object. Large payloads go through the multipart manager.
func (a *Archiver) upload(ctx context.Context, path string, records any) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return err
	}

	contentType := "application/x-ndjson"
	if a.passphrase != "" {
		buf, err = crypto.Seal(buf, a.passphrase)
		if err != nil {
			return err
		}
		contentType = "application/octet-stream"
	}

	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
}

// archivePath builds the object key for an export, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/closed/2026-07.jsonl
//	archive/audit/2026-07.jsonl.sealed
func archivePath(kind string, before time.Time, sealed bool) string {
	path := fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
	if sealed {
		path += ".sealed"
	}
	return path
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per element.
func marshalJSONL(records any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	switch rs := records.(type) {
	case []domain.Position:
		for i, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	case []domain.AuditEntry:
		for i, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	default:
		return nil, fmt.Errorf("jsonl: unsupported record type %T", records)
	}
	return buf.Bytes(), nil
}
