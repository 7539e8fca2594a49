package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const agreementColumns = `id, vendor_name, vendor_email, sender_name, pdf_url, status, signed,
form_data, documents, signed_pdf_url, created_at, signed_at, updated_at`

// PGStore persists agreements in PostgreSQL. Every mutation writes the
// matching outbox event inside the same transaction, so event delivery can
// never observe a state the store did not commit.
type PGStore struct {
	pool  *pgxpool.Pool
	newID func() string
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, newID: uuid.NewString}
}

func (s *PGStore) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	if params.VendorEmail == "" || params.VendorName == "" {
		return Agreement{}, fmt.Errorf("agreement: vendor name and email required")
	}
	if params.PDFURL == "" {
		return Agreement{}, fmt.Errorf("agreement: source document url required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO agreements (id, vendor_name, vendor_email, sender_name, pdf_url, status, signed)
VALUES ($1, $2, $3, $4, $5, $6, FALSE)
RETURNING ` + agreementColumns

	row := tx.QueryRow(ctx, insertSQL,
		s.newID(),
		params.VendorName,
		params.VendorEmail,
		params.SenderName,
		params.PDFURL,
		StatusPending,
	)
	rec, err := scanAgreement(row)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}

	if err := enqueueEvent(ctx, tx, Event{Kind: EventCreated, AgreementID: rec.ID, After: rec}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit create: %w", err)
	}

	return rec, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Agreement, error) {
	const query = `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1`

	rec, err := scanAgreement(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return rec, nil
}

// Update replaces the stored record with next and returns the snapshot pair
// of this particular write. The signed flag is monotonic and status changes
// must follow the lifecycle state machine.
func (s *PGStore) Update(ctx context.Context, next Agreement) (Agreement, Agreement, error) {
	if next.ID == "" {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: missing id")
	}
	if !next.Status.Valid() {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: unknown status %q", next.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const lockSQL = `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1 FOR UPDATE`

	before, err := scanAgreement(tx.QueryRow(ctx, lockSQL, next.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, Agreement{}, ErrNotFound
		}
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: lock current: %w", err)
	}

	if before.Signed && !next.Signed {
		return Agreement{}, Agreement{}, ErrSignedRegression
	}
	if before.Status != next.Status && !ValidTransition(before.Status, next.Status) {
		return Agreement{}, Agreement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before.Status, next.Status)
	}
	if next.Signed && next.SignedPDFURL == "" {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: signed record requires signed document url")
	}

	formData, err := json.Marshal(orEmptyMap(next.FormData))
	if err != nil {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: marshal form data: %w", err)
	}
	documents, err := json.Marshal(orEmptySlice(next.Documents))
	if err != nil {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: marshal documents: %w", err)
	}

	const updateSQL = `
UPDATE agreements
SET vendor_name = $2,
    vendor_email = $3,
    sender_name = $4,
    pdf_url = $5,
    status = $6,
    signed = $7,
    form_data = $8::jsonb,
    documents = $9::jsonb,
    signed_pdf_url = $10,
    signed_at = $11,
    updated_at = now()
WHERE id = $1
RETURNING ` + agreementColumns

	after, err := scanAgreement(tx.QueryRow(ctx, updateSQL,
		next.ID,
		next.VendorName,
		next.VendorEmail,
		next.SenderName,
		next.PDFURL,
		next.Status,
		next.Signed,
		formData,
		documents,
		next.SignedPDFURL,
		next.SignedAt,
	))
	if err != nil {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: update: %w", err)
	}

	event := Event{Kind: EventUpdated, AgreementID: after.ID, Before: &before, After: after}
	if err := enqueueEvent(ctx, tx, event); err != nil {
		return Agreement{}, Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, Agreement{}, fmt.Errorf("agreement: commit update: %w", err)
	}

	return before, after, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (Agreement, error) {
	var (
		rec       Agreement
		formData  []byte
		documents []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.VendorName,
		&rec.VendorEmail,
		&rec.SenderName,
		&rec.PDFURL,
		&rec.Status,
		&rec.Signed,
		&formData,
		&documents,
		&rec.SignedPDFURL,
		&rec.CreatedAt,
		&rec.SignedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Agreement{}, err
	}

	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &rec.FormData); err != nil {
			return Agreement{}, fmt.Errorf("decode form data: %w", err)
		}
	}
	if len(documents) > 0 {
		if err := json.Unmarshal(documents, &rec.Documents); err != nil {
			return Agreement{}, fmt.Errorf("decode documents: %w", err)
		}
	}
	if len(rec.FormData) == 0 {
		rec.FormData = nil
	}
	if len(rec.Documents) == 0 {
		rec.Documents = nil
	}
	return rec, nil
}

func enqueueEvent(ctx context.Context, tx pgx.Tx, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("agreement: marshal event: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, string(event.Kind), payload); err != nil {
		return fmt.Errorf("agreement: enqueue outbox: %w", err)
	}
	return nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(d []DocumentRef) []DocumentRef {
	if d == nil {
		return []DocumentRef{}
	}
	return d
}
