// Package render produces the signed document: the source PDF is fetched,
// an overlay page carrying the vendor data and signature is assembled, and
// the two are merged into one document. The function is pure given its
// inputs apart from the source fetch.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/phpdave11/gofpdf"

	"signflow/fault"
)

// Overlay page geometry. The page is tall enough that a bounded field list
// never overflows; MaxFields enforces the bound.
const (
	pageWidth  = 595.0
	pageHeight = 1200.0
	leftMargin = 50.0
	topMargin  = 50.0
	linePitch  = 14.0

	signatureWidth  = 150.0
	signatureHeight = 60.0

	// DefaultMaxFields keeps the single overlay page within its height
	// budget at the fixed line pitch.
	DefaultMaxFields = 70
)

// Request holds everything needed to produce the signed document bytes.
type Request struct {
	SourceURL        string
	AgreementID      string
	VendorData       map[string]string
	SignatureDataURL string
}

// Renderer fetches source documents and overlays vendor data onto them.
type Renderer struct {
	client    *http.Client
	maxFields int
	loc       *time.Location
	now       func() time.Time
}

func NewRenderer(client *http.Client, maxFields int, loc *time.Location) *Renderer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxFields <= 0 {
		maxFields = DefaultMaxFields
	}
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{client: client, maxFields: maxFields, loc: loc, now: time.Now}
}

// Render returns the complete signed document. No partial output is ever
// produced: the byte slice is assembled fully in memory before returning.
func (r *Renderer) Render(ctx context.Context, req Request) ([]byte, error) {
	if req.SourceURL == "" || req.AgreementID == "" || len(req.VendorData) == 0 {
		return nil, fault.New(fault.Validation, "render: missing required fields: pdfUrl, agreementId, or vendorData")
	}
	if len(req.VendorData) > r.maxFields {
		return nil, fault.New(fault.Validation, "render: vendor data exceeds %d fields", r.maxFields)
	}

	source, err := r.fetchSource(ctx, req.SourceURL)
	if err != nil {
		return nil, err
	}

	overlay, err := r.buildOverlay(req)
	if err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var out bytes.Buffer
	readers := []io.ReadSeeker{bytes.NewReader(source), bytes.NewReader(overlay)}
	if err := api.MergeRaw(readers, &out, false, conf); err != nil {
		return nil, fault.Wrap(fault.Render, err, "render: merge documents")
	}

	return out.Bytes(), nil
}

func (r *Renderer) fetchSource(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Fetch, err, "render: build source request")
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fault.Wrap(fault.Fetch, err, "render: fetch source document")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.New(fault.Fetch, "render: fetch source document: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Fetch, err, "render: read source document")
	}
	return body, nil
}

// buildOverlay assembles the appended page: one line per vendor-data entry,
// a timestamp line, and the optional signature image. Entries are rendered
// in key order so output is deterministic for fixed inputs.
func (r *Renderer) buildOverlay(req Request) ([]byte, error) {
	ts := r.now()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.SetCreationDate(ts)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)

	keys := make([]string, 0, len(req.VendorData))
	for k := range req.VendorData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	y := topMargin
	for _, k := range keys {
		pdf.Text(leftMargin, y, fmt.Sprintf("%s: %s", HumanLabel(k), req.VendorData[k]))
		y += linePitch
	}

	pdf.SetFontSize(12)
	pdf.Text(leftMargin, y+20, "Signed At: "+ts.In(r.loc).Format("02/01/2006, 15:04:05"))
	y += 40

	if req.SignatureDataURL != "" {
		sig, err := decodeSignature(req.SignatureDataURL)
		if err != nil {
			return nil, err
		}

		pdf.SetFontSize(10)
		pdf.Text(leftMargin, y+20, "Authorized Vendor Signature (Below)")

		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("vendor-signature", opts, bytes.NewReader(sig))
		pdf.ImageOptions("vendor-signature", leftMargin, y+30, signatureWidth, signatureHeight, false, opts, 0, "")
	}

	if pdf.Err() {
		return nil, fault.Wrap(fault.Render, pdf.Error(), "render: assemble overlay page")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fault.Wrap(fault.Render, err, "render: write overlay page")
	}
	return buf.Bytes(), nil
}

// decodeSignature extracts the PNG bytes from a data URL and verifies they
// decode as a PNG image before they reach the page assembler.
func decodeSignature(dataURL string) ([]byte, error) {
	_, payload, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, fault.New(fault.Render, "render: malformed signature data url")
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fault.Wrap(fault.Render, err, "render: decode signature payload")
	}

	if _, err := png.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return nil, fault.Wrap(fault.Render, err, "render: signature is not a valid png")
	}
	return raw, nil
}
