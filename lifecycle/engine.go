// Package lifecycle is the trigger engine driving the agreement pipeline:
// the creation branch invites the vendor, the completion branch notifies
// the administrator, and the artifact path renders and stores the signed
// document. Handlers are stateless and safe under at-least-once event
// delivery.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"signflow/agreement"
	"signflow/blob"
	"signflow/fault"
	"signflow/ledger"
	"signflow/mailer"
	"signflow/render"
)

// The shape vendor addresses must match before an invite is attempted.
var emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Store is the slice of the document store the engine needs.
type Store interface {
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	Update(ctx context.Context, next agreement.Agreement) (before, after agreement.Agreement, err error)
}

// Renderer produces signed document bytes from a render request.
type Renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

// FailureSink records diagnostic failure entries; it never fails out.
type FailureSink interface {
	Record(ctx context.Context, rec ledger.FailureRecord)
}

// Config carries the fixed addresses the engine composes links and
// notifications from. Built once at startup and passed by reference.
type Config struct {
	// BaseOrigin is the vendor-facing origin signing links are built on.
	BaseOrigin string
	// NotifyEmail receives admin completion notices.
	NotifyEmail string
	// Location formats human-readable completion timestamps.
	Location *time.Location
}

// Engine reacts to document store events and runs the artifact pipeline.
type Engine struct {
	store    Store
	mail     mailer.Mailer
	renderer Renderer
	blobs    blob.Store
	failures FailureSink
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewEngine(
	store Store,
	mail mailer.Mailer,
	renderer Renderer,
	blobs blob.Store,
	failures FailureSink,
	cfg Config,
	logger *zap.Logger,
	metrics *Metrics,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		store:    store,
		mail:     mail,
		renderer: renderer,
		blobs:    blobs,
		failures: failures,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// SigningLink builds the vendor-facing URL for an agreement.
func (e *Engine) SigningLink(agreementID string) string {
	return strings.TrimRight(e.cfg.BaseOrigin, "/") + "/sign/" + agreementID
}

// HandleAgreementCreated is the creation branch: validate the new record
// and send the vendor an invitation carrying the signing link. Errors are
// recorded in the ledger and returned, leaving the event unacknowledged so
// the delivery layer retries. A duplicate delivery at worst re-sends the
// invite, which is tolerated.
func (e *Engine) HandleAgreementCreated(ctx context.Context, snap agreement.Agreement) error {
	if err := validateCreation(snap); err != nil {
		e.fail(ctx, err, snap.ID, snap.VendorEmail, "")
		return err
	}

	link := e.SigningLink(snap.ID)
	msg := mailer.Invite(snap.VendorEmail, snap.VendorName, snap.SenderName, link)

	if err := e.mail.Send(ctx, msg); err != nil {
		err = fmt.Errorf("lifecycle: send invite: %w", err)
		e.fail(ctx, err, snap.ID, snap.VendorEmail, "")
		return err
	}

	e.metrics.InvitesSent.Inc()
	e.logger.Info("invite sent",
		zap.String("agreement_id", snap.ID),
		zap.String("vendor_email", snap.VendorEmail),
	)
	return nil
}

// HandleAgreementUpdated is the completion branch: it fires the admin
// notification only on the false -> true transition of the signed flag,
// judged on the exact snapshot pair delivered with this event. Notification
// failures are recorded and swallowed — the state transition already
// succeeded, so the event must never be retried on their account.
func (e *Engine) HandleAgreementUpdated(ctx context.Context, before, after agreement.Agreement) error {
	if before.Signed || !after.Signed {
		return nil
	}

	signedAt := e.now()
	if after.SignedAt != nil {
		signedAt = *after.SignedAt
	}

	msg := mailer.CompletionNotice(
		e.cfg.NotifyEmail,
		after.VendorName,
		after.VendorEmail,
		signedAt.In(e.cfg.Location).Format("02/01/2006, 15:04:05"),
		after.SignedPDFURL,
	)

	if err := e.mail.Send(ctx, msg); err != nil {
		e.fail(ctx, fmt.Errorf("lifecycle: notify admin: %w", err), after.ID, after.VendorEmail, "")
		e.logger.Warn("admin notification failed",
			zap.Error(err),
			zap.String("agreement_id", after.ID),
		)
		return nil
	}

	e.metrics.NoticesSent.Inc()
	e.logger.Info("admin notified",
		zap.String("agreement_id", after.ID),
		zap.String("vendor_name", after.VendorName),
	)
	return nil
}

func validateCreation(snap agreement.Agreement) error {
	if snap.VendorEmail == "" || snap.ID == "" || snap.VendorName == "" {
		return fault.New(fault.Validation, "lifecycle: missing required fields: vendorEmail, agreementId, or vendorName")
	}
	if !emailRx.MatchString(snap.VendorEmail) {
		return fault.New(fault.Validation, "lifecycle: invalid vendorEmail format: %s", snap.VendorEmail)
	}
	return nil
}

// fail records one ledger entry and bumps the failure counter.
func (e *Engine) fail(ctx context.Context, err error, agreementID, vendorEmail, platform string) {
	e.metrics.Failures.WithLabelValues(string(fault.KindOf(err))).Inc()
	e.failures.Record(ctx, ledger.FailureRecord{
		Error:       err.Error(),
		AgreementID: agreementID,
		VendorEmail: vendorEmail,
		Platform:    platform,
	})
}
