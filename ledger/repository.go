package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGWriter stores failure records in PostgreSQL keyed by the timestamp
// string, mirroring the external diagnostic collection layout.
type PGWriter struct {
	pool *pgxpool.Pool
}

func NewPGWriter(pool *pgxpool.Pool) *PGWriter {
	return &PGWriter{pool: pool}
}

func (w *PGWriter) Write(ctx context.Context, rec FailureRecord) error {
	const q = `
INSERT INTO failure_records (key, error, agreement_id, vendor_email, platform, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key) DO UPDATE
SET error = EXCLUDED.error,
    agreement_id = EXCLUDED.agreement_id,
    vendor_email = EXCLUDED.vendor_email,
    platform = EXCLUDED.platform
`

	key := rec.Timestamp.UTC().Format(time.RFC3339Nano)
	if _, err := w.pool.Exec(ctx, q, key, rec.Error, rec.AgreementID, rec.VendorEmail, rec.Platform, rec.Timestamp); err != nil {
		return fmt.Errorf("ledger: insert failure record: %w", err)
	}
	return nil
}
