package agreement

import "time"

// DocumentRef points at a supporting document the vendor attached.
type DocumentRef struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Agreement is the central workflow record. The JSON tags define the
// snapshot shape carried by mutation events and the HTTP layer.
type Agreement struct {
	ID           string            `json:"agreementId"`
	VendorName   string            `json:"vendorName"`
	VendorEmail  string            `json:"vendorEmail"`
	SenderName   string            `json:"senderName"`
	PDFURL       string            `json:"pdfUrl"`
	Status       Status            `json:"status"`
	Signed       bool              `json:"signed"`
	FormData     map[string]string `json:"formData,omitempty"`
	Documents    []DocumentRef     `json:"documents,omitempty"`
	SignedPDFURL string            `json:"signedPdfUrl,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	SignedAt     *time.Time        `json:"signedAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// CreateParams carries the fields set by the administrative workflow.
type CreateParams struct {
	VendorName  string
	VendorEmail string
	SenderName  string
	PDFURL      string
}

// EventKind distinguishes outbox topics.
type EventKind string

const (
	EventCreated EventKind = "agreement.created"
	EventUpdated EventKind = "agreement.updated"
)

// Event is the mutation notification written to the outbox in the same
// transaction as the record change. Before is nil for creations; update
// events always carry the exact pre/post snapshot pair of that mutation.
type Event struct {
	Kind        EventKind  `json:"kind"`
	AgreementID string     `json:"agreementId"`
	Before      *Agreement `json:"before,omitempty"`
	After       Agreement  `json:"after"`
}
