package lifecycle

import (
	"context"
	"fmt"

	"signflow/blob"
	"signflow/fault"
	"signflow/render"
)

// ArtifactRequest is the synchronous artifact-generation call input.
type ArtifactRequest struct {
	SourceURL        string            `json:"pdfUrl"`
	AgreementID      string            `json:"agreementId"`
	VendorData       map[string]string `json:"vendorData"`
	SignatureDataURL string            `json:"signatureDataUrl,omitempty"`
}

// ArtifactResult carries the public URL of the stored signed document.
type ArtifactResult struct {
	SignedPDFURL string `json:"signedPdfUrl"`
}

// ArtifactPath is the deterministic storage location for an agreement's
// signed document.
func ArtifactPath(agreementID string) string {
	return "signed_agreements/" + agreementID + "_signed.pdf"
}

// GenerateArtifact renders the signed document and stores it. The store
// write is the final step, after full byte assembly, so a failed invocation
// leaves no partial artifact behind. Failures are recorded in the ledger
// and propagate to the caller.
func (e *Engine) GenerateArtifact(ctx context.Context, req ArtifactRequest) (ArtifactResult, error) {
	start := e.now()

	data, err := e.renderer.Render(ctx, render.Request{
		SourceURL:        req.SourceURL,
		AgreementID:      req.AgreementID,
		VendorData:       req.VendorData,
		SignatureDataURL: req.SignatureDataURL,
	})
	if err != nil {
		err = fmt.Errorf("lifecycle: render artifact: %w", err)
		e.fail(ctx, err, req.AgreementID, "", "")
		return ArtifactResult{}, err
	}

	obj := blob.Object{
		Path:        ArtifactPath(req.AgreementID),
		ContentType: "application/pdf",
		Data:        data,
		Public:      true,
	}
	if err := e.blobs.Put(ctx, obj); err != nil {
		wrapped := fault.Wrap(fault.Transport, err, "lifecycle: store artifact")
		e.fail(ctx, wrapped, req.AgreementID, "", "")
		return ArtifactResult{}, wrapped
	}

	e.metrics.RenderSeconds.Observe(e.now().Sub(start).Seconds())
	return ArtifactResult{SignedPDFURL: e.blobs.URL(obj.Path)}, nil
}
