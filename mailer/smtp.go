package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"signflow/fault"
)

// SMTPOptions configure the transport. Zero values fall back to sane
// defaults in NewSMTP.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Attempts bounds transient-failure retries per send.
	Attempts uint
	// RatePerSecond caps outbound sends; bursts up to twice the rate.
	RatePerSecond float64
}

// SMTP delivers messages over SMTP. Sends are rate limited, retried on
// transient failures, and guarded by a circuit breaker so a dead relay
// fails fast instead of stalling every trigger invocation.
type SMTP struct {
	client   *mail.Client
	from     string
	attempts uint
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

func NewSMTP(opts SMTPOptions) (*SMTP, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("mailer: smtp host required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("mailer: sender address required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 5
	}

	clientOpts := []mail.Option{
		mail.WithPort(opts.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}

	client, err := mail.NewClient(opts.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: build smtp client: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	burst := int(opts.RatePerSecond * 2)
	if burst < 1 {
		burst = 1
	}

	return &SMTP{
		client:   client,
		from:     opts.From,
		attempts: opts.Attempts,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
	}, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fault.New(fault.Validation, "mailer: recipient required")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fault.Wrap(fault.Transport, err, "mailer: rate limit wait")
	}

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fault.Wrap(fault.Transport, err, "mailer: set sender")
	}
	if err := m.To(msg.To); err != nil {
		return fault.Wrap(fault.Transport, err, "mailer: set recipient")
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.attempts),
		)
		return nil, r.Do(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return s.client.DialAndSendWithContext(sendCtx, m)
		})
	})
	if err != nil {
		return fault.Wrap(fault.Transport, err, "mailer: send to %s", msg.To)
	}
	return nil
}
