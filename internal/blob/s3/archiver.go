package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

const jsonContentType = "application/json"

// multipartThreshold is the report size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 << 20

// Archiver implements domain.Archiver. Evidence bundles are content
// addressed and written once; sweep reports are partitioned by day.
//
//	evidence/<marketId>/<digest>.json
//	sweeps/<yyyy-mm-dd>/<sweepId>.json
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver. reader may be nil, in which case evidence
// bundles are always uploaded.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// EvidencePath is the object key for a market's evidence bundle.
func EvidencePath(marketID uint64, digest string) string {
	return fmt.Sprintf("evidence/%d/%s.json", marketID, strings.TrimPrefix(digest, "0x"))
}

// ReportPath is the object key for a sweep report.
func ReportPath(s domain.SweepSummary) string {
	return fmt.Sprintf("sweeps/%s/%s.json", s.StartedAt.UTC().Format("2006-01-02"), s.ID)
}

// ArchiveEvidence uploads the canonical bundle unless an object with the same
// digest already exists, and returns its key.
func (a *Archiver) ArchiveEvidence(ctx context.Context, marketID uint64, digest string, bundle []byte) (string, error) {
	path := EvidencePath(marketID, digest)
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive evidence: %w", err)
		}
		if ok {
			return path, nil
		}
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(bundle), jsonContentType); err != nil {
		return "", fmt.Errorf("s3blob: archive evidence: %w", err)
	}
	return path, nil
}

// ArchiveReport uploads the full sweep report and returns its key.
func (a *Archiver) ArchiveReport(ctx context.Context, report domain.SweepReport) (string, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode report %s: %w", report.Summary.ID, err)
	}
	path := ReportPath(report.Summary)
	if len(raw) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(raw), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(raw), jsonContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report: %w", err)
	}
	return path, nil
}

var _ domain.Archiver = (*Archiver)(nil)
