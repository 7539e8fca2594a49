package mailer

import (
	"fmt"
	"html"
)

// Invite builds the vendor invitation carrying the signing link.
func Invite(to, vendorName, senderName, link string) Message {
	if senderName == "" {
		senderName = "the sender"
	}
	vendor := html.EscapeString(vendorName)
	sender := html.EscapeString(senderName)

	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; background: #f8f8f8; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background: #fff; padding: 30px; border-radius: 10px;">
    <h2>Hello %s,</h2>
    <p>You've received a digital agreement from <strong>%s</strong>.</p>
    <div style="margin: 30px 0; text-align: center;">
      <a href="%s" target="_blank"
         style="background: #007bff; color: #fff; padding: 14px 24px; border-radius: 6px; text-decoration: none; font-weight: bold;">
        Review &amp; Sign Agreement
      </a>
    </div>
    <p>If the button doesn't work, copy this link:</p>
    <p><a href="%s">%s</a></p>
  </div>
</div>`, vendor, sender, link, link, link)

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Agreement from %s", senderName),
		HTML:    body,
	}
}

// CompletionNotice builds the admin notification sent when a vendor signs.
func CompletionNotice(to, vendorName, vendorEmail, signedAt, signedURL string) Message {
	vendor := html.EscapeString(vendorName)
	email := html.EscapeString(vendorEmail)

	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif;">
  <h2>Agreement Signed</h2>
  <p><strong>Vendor:</strong> %s</p>
  <p><strong>Email:</strong> %s</p>
  <p><strong>Signed At:</strong> %s</p>
  <p><a href="%s" target="_blank">View Signed Document</a></p>
</div>`, vendor, email, html.EscapeString(signedAt), signedURL)

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Agreement Signed by %s", vendorName),
		HTML:    body,
	}
}
