// Package mailer composes and delivers the two outbound notification
// templates: the vendor invitation and the admin completion notice.
package mailer

import "context"

// Message is one outbound email to a single recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer synchronously sends a formatted message to one recipient.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
