package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadx/adexchange/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{puts: make(map[string][]byte)}
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = b
	return nil
}

type fakeReader struct {
	objects map[string][]byte
	// when set, Exists reports false regardless of objects
	dropUploads bool
}

func (r *fakeReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := r.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (r *fakeReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, b := range r.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (r *fakeReader) Exists(_ context.Context, path string) (bool, error) {
	if r.dropUploads {
		return false, nil
	}
	_, ok := r.objects[path]
	return ok, nil
}

type fakeArchiveStore struct {
	records []domain.ClearedAuction
}

func (s *fakeArchiveStore) ListBefore(_ context.Context, before time.Time) ([]domain.ClearedAuction, error) {
	var out []domain.ClearedAuction
	for _, rec := range s.records {
		if rec.Timestamp.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func clearedAt(oppID string, ts time.Time) domain.ClearedAuction {
	return domain.ClearedAuction{
		OpportunityID: oppID,
		CoordinatorID: "primary",
		AuctionType:   domain.AuctionTypeSecondPrice,
		Timestamp:     ts,
		ClearingPrice: 3.5,
		Winner:        domain.Offer{BidderID: "dsp-1", OpportunityID: oppID, Price: 4},
	}
}

func TestArchiveAuditRecords(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeArchiveStore{records: []domain.ClearedAuction{
		clearedAt("opp-old-1", cutoff.Add(-48*time.Hour)),
		clearedAt("opp-old-2", cutoff.Add(-24*time.Hour)),
		clearedAt("opp-new", cutoff.Add(time.Hour)),
	}}
	writer := newFakeWriter()
	reader := &fakeReader{objects: writer.puts}

	a := NewArchiver(writer, reader, store)
	n, err := a.ArchiveAuditRecords(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := writer.puts["archive/audit/2026-08.jsonl"]
	require.True(t, ok)

	// One compact JSON document per line, in store order.
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"opp-old-1"`)
	assert.Contains(t, lines[1], `"opp-old-2"`)
}

func TestArchiveAuditRecordsNothingToArchive(t *testing.T) {
	writer := newFakeWriter()
	reader := &fakeReader{objects: writer.puts}
	a := NewArchiver(writer, reader, &fakeArchiveStore{})

	n, err := a.ArchiveAuditRecords(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.puts)
}

func TestArchiveAuditRecordsVerificationFailure(t *testing.T) {
	store := &fakeArchiveStore{records: []domain.ClearedAuction{
		clearedAt("opp-1", time.Now().UTC().Add(-time.Hour)),
	}}
	writer := newFakeWriter()
	reader := &fakeReader{objects: writer.puts, dropUploads: true}

	a := NewArchiver(writer, reader, store)
	_, err := a.ArchiveAuditRecords(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing after upload")
}

func TestListArchives(t *testing.T) {
	reader := &fakeReader{objects: map[string][]byte{
		"archive/audit/2026-07.jsonl": []byte("{}\n"),
		"archive/audit/2026-08.jsonl": []byte("{}\n{}\n"),
		"unrelated/object":            []byte("x"),
	}}
	a := NewArchiver(newFakeWriter(), reader, &fakeArchiveStore{})

	infos, err := a.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.True(t, strings.HasPrefix(info.Path, "archive/audit/"))
	}
}
