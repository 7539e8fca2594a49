package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"signflow/agreement"
	"signflow/fault"
	"signflow/ledger"
)

// SubmitRequest is the vendor submission: the filled form, the optional
// signature, supporting document references, and the client platform
// string kept for diagnostics.
type SubmitRequest struct {
	AgreementID      string
	FormData         map[string]string
	SignatureDataURL string
	Documents        []agreement.DocumentRef
	Platform         string
}

// Submit runs the completion pipeline for one vendor submission:
//
//	mutation 1: record form data, enter submitting
//	render + store the signed artifact
//	mutation 2: attach the artifact url and flip signed
//
// The completion notification rides on mutation 2's update event, so the
// admin link always points at an existing artifact. A second submit for the
// same agreement while one is in flight is rejected outright.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (agreement.Agreement, error) {
	if req.AgreementID == "" {
		return agreement.Agreement{}, fault.New(fault.Validation, "lifecycle: missing agreement id")
	}
	if len(req.FormData) == 0 {
		return agreement.Agreement{}, fault.New(fault.Validation, "lifecycle: form data required")
	}

	if !e.begin(req.AgreementID) {
		return agreement.Agreement{}, fault.New(fault.Validation, "lifecycle: submission already in progress for %s", req.AgreementID)
	}
	defer e.end(req.AgreementID)

	rec, err := e.store.Get(ctx, req.AgreementID)
	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) {
			err = fault.Wrap(fault.NotFound, err, "lifecycle: agreement %s", req.AgreementID)
		} else {
			err = fmt.Errorf("lifecycle: load agreement: %w", err)
		}
		e.fail(ctx, err, req.AgreementID, "", req.Platform)
		return agreement.Agreement{}, err
	}

	if rec.Signed {
		err := fault.New(fault.Validation, "lifecycle: agreement %s is already signed", rec.ID)
		e.fail(ctx, err, rec.ID, rec.VendorEmail, req.Platform)
		return agreement.Agreement{}, err
	}

	signedAt := e.now()
	next := rec
	next.Status = agreement.StatusSubmitting
	next.FormData = req.FormData
	next.Documents = req.Documents
	next.SignedAt = &signedAt

	_, staged, err := e.store.Update(ctx, next)
	if err != nil {
		err = fmt.Errorf("lifecycle: stage submission: %w", err)
		e.fail(ctx, err, rec.ID, rec.VendorEmail, req.Platform)
		return agreement.Agreement{}, err
	}

	artifact, err := e.GenerateArtifact(ctx, ArtifactRequest{
		SourceURL:        rec.PDFURL,
		AgreementID:      rec.ID,
		VendorData:       req.FormData,
		SignatureDataURL: req.SignatureDataURL,
	})
	if err != nil {
		// GenerateArtifact already recorded its own ledger entry; this one
		// adds the submission context the operator debugs with.
		e.failures.Record(ctx, ledger.FailureRecord{
			Error:       err.Error(),
			AgreementID: rec.ID,
			VendorEmail: rec.VendorEmail,
			Platform:    req.Platform,
		})
		return agreement.Agreement{}, err
	}

	final := staged
	final.Status = agreement.StatusSigned
	final.Signed = true
	final.SignedPDFURL = artifact.SignedPDFURL

	_, signed, err := e.store.Update(ctx, final)
	if err != nil {
		err = fmt.Errorf("lifecycle: finalize submission: %w", err)
		e.fail(ctx, err, rec.ID, rec.VendorEmail, req.Platform)
		return agreement.Agreement{}, err
	}

	return signed, nil
}

// begin marks an agreement submission in flight; it reports false when one
// is already running.
func (e *Engine) begin(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) end(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}
