package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

type memBucket struct {
	objects      map[string][]byte
	contentTypes map[string]string
	multiparts   int
}

func newMemBucket() *memBucket {
	return &memBucket{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = buf
	b.contentTypes[path] = contentType
	return nil
}

func (b *memBucket) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = buf
	b.multiparts++
	return nil
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type stubPositionExport struct {
	positions []domain.Position
	calls     int
}

func (s *stubPositionExport) ListByStatus(_ context.Context, _ domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	s.calls++
	if opts.Until == nil {
		panic("archiver must pass a cutoff")
	}
	return s.positions, nil
}

type stubAuditExport struct {
	entries []domain.AuditEntry
	events  []string
}

func (s *stubAuditExport) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *stubAuditExport) Log(_ context.Context, event string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePositions(n int) []domain.Position {
	out := make([]domain.Position, n)
	for i := range out {
		out[i] = domain.Position{
			ID:            "pos_" + string(rune('a'+i)),
			PaymentID:     "pay_" + string(rune('a'+i)),
			WalletAddress: "0x1111111111111111111111111111111111111111",
			Strategy:      domain.StrategyConservative,
			DepositAmount: 100,
			Status:        domain.PositionClosed,
			CreatedAt:     time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func TestArchivePositionsWritesJSONL(t *testing.T) {
	bucket := newMemBucket()
	positions := &stubPositionExport{positions: samplePositions(3)}
	audit := &stubAuditExport{}
	a := NewArchiver(bucket, bucket, positions, audit, "", testLogger())

	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchivePositions(context.Background(), domain.PositionClosed, before)
	if err != nil {
		t.Fatalf("ArchivePositions() = %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	const path = "archive/positions/closed/2026-05.jsonl"
	buf, ok := bucket.objects[path]
	if !ok {
		t.Fatalf("object %s not written; have %v", path, bucket.objects)
	}
	if ct := bucket.contentTypes[path]; ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if row["PaymentID"] != "pay_a" {
		t.Errorf("line 0 PaymentID = %v", row["PaymentID"])
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.positions" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchivePositionsSkipsExistingExport(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["archive/positions/closed/2026-05.jsonl"] = []byte("{}\n")
	positions := &stubPositionExport{positions: samplePositions(2)}
	a := NewArchiver(bucket, bucket, positions, &stubAuditExport{}, "", testLogger())

	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchivePositions(context.Background(), domain.PositionClosed, before)
	if err != nil {
		t.Fatalf("ArchivePositions() = %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0 for existing export", n)
	}
	if positions.calls != 0 {
		t.Errorf("store queried %d times, want 0", positions.calls)
	}
}

func TestArchiveAuditEmptyIsNoop(t *testing.T) {
	bucket := newMemBucket()
	audit := &stubAuditExport{}
	a := NewArchiver(bucket, bucket, &stubPositionExport{}, audit, "", testLogger())

	n, err := a.ArchiveAudit(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveAudit() = %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if len(bucket.objects) != 0 {
		t.Errorf("objects written for empty export: %v", bucket.objects)
	}
	if len(audit.events) != 0 {
		t.Errorf("audit events = %v, want none", audit.events)
	}
}

func TestSealedExportRoundTrip(t *testing.T) {
	bucket := newMemBucket()
	positions := &stubPositionExport{positions: samplePositions(2)}
	a := NewArchiver(bucket, bucket, positions, &stubAuditExport{}, "export-pass", testLogger())

	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.ArchivePositions(context.Background(), domain.PositionClosed, before); err != nil {
		t.Fatalf("ArchivePositions() = %v", err)
	}

	const path = "archive/positions/closed/2026-05.jsonl.sealed"
	raw, ok := bucket.objects[path]
	if !ok {
		t.Fatalf("sealed object %s not written; have %v", path, bucket.objects)
	}
	if bytes.Contains(raw, []byte("pay_a")) {
		t.Fatal("sealed export contains plaintext payment id")
	}

	plain, err := a.ReadExport(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadExport() = %v", err)
	}
	if !bytes.Contains(plain, []byte("pay_a")) {
		t.Error("unsealed export missing expected record")
	}
}

func TestSweepArchivesClosedFailedAndAudit(t *testing.T) {
	bucket := newMemBucket()
	positions := &stubPositionExport{positions: samplePositions(1)}
	audit := &stubAuditExport{entries: []domain.AuditEntry{{ID: 1, Event: "payment.created", CreatedAt: time.Now().Add(-100 * 24 * time.Hour)}}}
	a := NewArchiver(bucket, bucket, positions, audit, "", testLogger())

	if err := a.Sweep(context.Background(), 90*24*time.Hour); err != nil {
		t.Fatalf("Sweep() = %v", err)
	}

	// One export per position status plus the audit export.
	if len(bucket.objects) != 3 {
		t.Errorf("got %d objects, want 3: %v", len(bucket.objects), bucket.objects)
	}
}
