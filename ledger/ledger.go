// Package ledger is the append-only failure trail. Writes are best effort:
// the ledger sits inside other components' failure paths, so it must never
// fail out of them.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FailureRecord is one diagnostic entry. The timestamp doubles as the
// record key; collisions within the same nanosecond overwrite, which is
// acceptable for a diagnostic trail.
type FailureRecord struct {
	Error       string    `json:"error"`
	AgreementID string    `json:"agreementId"`
	VendorEmail string    `json:"vendorEmail"`
	Platform    string    `json:"platform,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Writer persists a single record.
type Writer interface {
	Write(ctx context.Context, rec FailureRecord) error
}

// Ledger normalizes records and degrades write failures to a warning.
type Ledger struct {
	writer Writer
	logger *zap.Logger
	now    func() time.Time
}

func New(writer Writer, logger *zap.Logger) *Ledger {
	return &Ledger{writer: writer, logger: logger, now: time.Now}
}

// Record persists rec. It never returns an error: a sink failure is logged
// and swallowed so a failure handler cannot itself fail.
func (l *Ledger) Record(ctx context.Context, rec FailureRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.VendorEmail == "" {
		rec.VendorEmail = "unknown"
	}

	if err := l.writer.Write(ctx, rec); err != nil {
		l.logger.Warn("failure record dropped",
			zap.Error(err),
			zap.String("agreement_id", rec.AgreementID),
			zap.String("original_error", rec.Error),
		)
	}
}
