package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"signflow/agreement"
	"signflow/blob"
	"signflow/fault"
	"signflow/ledger"
	"signflow/mailer"
	"signflow/render"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSink struct {
	recs []ledger.FailureRecord
}

func (f *fakeSink) Record(_ context.Context, rec ledger.FailureRecord) {
	f.recs = append(f.recs, rec)
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]agreement.Agreement
	updates []agreement.Event
	getErr  error
	updErr  error
}

func newFakeStore(recs ...agreement.Agreement) *fakeStore {
	m := make(map[string]agreement.Agreement, len(recs))
	for _, r := range recs {
		m[r.ID] = r
	}
	return &fakeStore{records: m}
}

func (f *fakeStore) Get(_ context.Context, id string) (agreement.Agreement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return agreement.Agreement{}, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return agreement.Agreement{}, agreement.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Update(_ context.Context, next agreement.Agreement) (agreement.Agreement, agreement.Agreement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return agreement.Agreement{}, agreement.Agreement{}, f.updErr
	}
	before, ok := f.records[next.ID]
	if !ok {
		return agreement.Agreement{}, agreement.Agreement{}, agreement.ErrNotFound
	}
	if before.Signed && !next.Signed {
		return agreement.Agreement{}, agreement.Agreement{}, agreement.ErrSignedRegression
	}
	f.records[next.ID] = next
	b := before
	f.updates = append(f.updates, agreement.Event{
		Kind:        agreement.EventUpdated,
		AgreementID: next.ID,
		Before:      &b,
		After:       next,
	})
	return before, next, nil
}

type fakeRenderer struct {
	data    []byte
	err     error
	started chan struct{}
	release chan struct{}
	calls   int
}

func (f *fakeRenderer) Render(_ context.Context, _ render.Request) ([]byte, error) {
	f.calls++
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeBlobs struct {
	objects map[string]blob.Object
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string]blob.Object)}
}

func (f *fakeBlobs) Put(_ context.Context, obj blob.Object) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[obj.Path] = obj
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, path string) (blob.Object, error) {
	obj, ok := f.objects[path]
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return obj, nil
}

func (f *fakeBlobs) URL(path string) string { return "https://s/" + path }

type engineParts struct {
	engine *Engine
	mail   *fakeMailer
	sink   *fakeSink
	store  *fakeStore
	rend   *fakeRenderer
	blobs  *fakeBlobs
}

func newTestEngine(recs ...agreement.Agreement) engineParts {
	p := engineParts{
		mail:  &fakeMailer{},
		sink:  &fakeSink{},
		store: newFakeStore(recs...),
		rend:  &fakeRenderer{data: []byte("%PDF-1.7 signed")},
		blobs: newFakeBlobs(),
	}
	cfg := Config{
		BaseOrigin:  "https://sign.example.com",
		NotifyEmail: "ops@example.com",
		Location:    time.UTC,
	}
	p.engine = NewEngine(p.store, p.mail, p.rend, p.blobs, p.sink, cfg, zap.NewNop(), nil)
	return p
}

func pendingAgreement() agreement.Agreement {
	return agreement.Agreement{
		ID:          "A1",
		VendorName:  "Acme",
		VendorEmail: "v@x.com",
		SenderName:  "Northwind",
		PDFURL:      "https://t/doc.pdf",
		Status:      agreement.StatusPending,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHandleAgreementCreated_SendsInvite(t *testing.T) {
	p := newTestEngine()

	if err := p.engine.HandleAgreementCreated(context.Background(), pendingAgreement()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(p.mail.sent) != 1 {
		t.Fatalf("expected one invite, got %d", len(p.mail.sent))
	}
	msg := p.mail.sent[0]
	if msg.To != "v@x.com" {
		t.Errorf("invite sent to %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "https://sign.example.com/sign/A1") {
		t.Errorf("invite missing signing link")
	}
	if len(p.sink.recs) != 0 {
		t.Errorf("no failure records expected, got %d", len(p.sink.recs))
	}
}

func TestHandleAgreementCreated_ReplayTolerated(t *testing.T) {
	p := newTestEngine()
	snap := pendingAgreement()

	for i := 0; i < 2; i++ {
		if err := p.engine.HandleAgreementCreated(context.Background(), snap); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	// At-least-once delivery may duplicate the invite but nothing else.
	if len(p.mail.sent) != 2 {
		t.Fatalf("expected two invites after replay, got %d", len(p.mail.sent))
	}
}

func TestHandleAgreementCreated_InvalidEmail(t *testing.T) {
	p := newTestEngine()
	snap := pendingAgreement()
	snap.VendorEmail = "not-an-email"

	err := p.engine.HandleAgreementCreated(context.Background(), snap)
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(p.mail.sent) != 0 {
		t.Errorf("no invite expected for invalid address")
	}
	if len(p.sink.recs) != 1 {
		t.Fatalf("expected exactly one failure record, got %d", len(p.sink.recs))
	}
	rec := p.sink.recs[0]
	if rec.AgreementID != "A1" || rec.VendorEmail != "not-an-email" {
		t.Errorf("failure record context wrong: %+v", rec)
	}
}

func TestHandleAgreementCreated_MissingID(t *testing.T) {
	p := newTestEngine()
	snap := pendingAgreement()
	snap.ID = ""

	err := p.engine.HandleAgreementCreated(context.Background(), snap)
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(p.sink.recs) != 1 {
		t.Fatalf("expected exactly one failure record, got %d", len(p.sink.recs))
	}
}

func TestHandleAgreementCreated_MailerFailure(t *testing.T) {
	p := newTestEngine()
	p.mail.err = errors.New("smtp: connection refused")

	err := p.engine.HandleAgreementCreated(context.Background(), pendingAgreement())
	if err == nil {
		t.Fatalf("expected error to propagate for retry")
	}
	if len(p.sink.recs) != 1 {
		t.Fatalf("expected failure record, got %d", len(p.sink.recs))
	}
	if p.sink.recs[0].VendorEmail != "v@x.com" {
		t.Errorf("failure record should keep the vendor address: %+v", p.sink.recs[0])
	}
}

func TestHandleAgreementUpdated_FiresOnceOnTransition(t *testing.T) {
	p := newTestEngine()

	before := pendingAgreement()
	signedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := before
	after.Signed = true
	after.Status = agreement.StatusSigned
	after.SignedAt = &signedAt
	after.SignedPDFURL = "https://s/A1.pdf"

	if err := p.engine.HandleAgreementUpdated(context.Background(), before, after); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(p.mail.sent) != 1 {
		t.Fatalf("expected one admin notice, got %d", len(p.mail.sent))
	}
	msg := p.mail.sent[0]
	if msg.To != "ops@example.com" {
		t.Errorf("notice sent to %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "Acme") || !strings.Contains(msg.HTML, "https://s/A1.pdf") {
		t.Errorf("notice missing vendor identity or artifact link")
	}
}

func TestHandleAgreementUpdated_NoOpCases(t *testing.T) {
	p := newTestEngine()

	base := pendingAgreement()
	signed := base
	signed.Signed = true
	signed.SignedPDFURL = "https://s/A1.pdf"

	cases := []struct {
		name          string
		before, after agreement.Agreement
	}{
		{"unsigned to unsigned", base, base},
		{"replayed signed pair", signed, signed},
		{"unrelated field change", base, func() agreement.Agreement {
			a := base
			a.VendorName = "Acme Holdings"
			return a
		}()},
	}

	for _, tc := range cases {
		if err := p.engine.HandleAgreementUpdated(context.Background(), tc.before, tc.after); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
	if len(p.mail.sent) != 0 {
		t.Fatalf("no notification expected, got %d", len(p.mail.sent))
	}
}

func TestHandleAgreementUpdated_SwallowsMailerFailure(t *testing.T) {
	p := newTestEngine()
	p.mail.err = fmt.Errorf("smtp: relay down")

	before := pendingAgreement()
	after := before
	after.Signed = true
	after.SignedPDFURL = "https://s/A1.pdf"

	if err := p.engine.HandleAgreementUpdated(context.Background(), before, after); err != nil {
		t.Fatalf("completion branch must swallow mailer failures, got %v", err)
	}
	if len(p.sink.recs) != 1 {
		t.Fatalf("expected failure record, got %d", len(p.sink.recs))
	}
	rec := p.sink.recs[0]
	if rec.AgreementID != "A1" || rec.VendorEmail != "v@x.com" {
		t.Errorf("failure record context wrong: %+v", rec)
	}
}

func TestSigningLink(t *testing.T) {
	p := newTestEngine()
	if got := p.engine.SigningLink("A1"); got != "https://sign.example.com/sign/A1" {
		t.Fatalf("unexpected signing link %q", got)
	}
}
