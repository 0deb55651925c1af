package billing

import (
	"context"
	"fmt"
	"html"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/mail"
)

// Notifier delivers a logged billing email. Delivery is best effort: a
// failure is logged and counted, the entitlement write stands.
type Notifier interface {
	Notify(ctx context.Context, user *models.User, entry *models.EmailLog) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *models.User, *models.EmailLog) error { return nil }

// MailNotifier renders billing emails and sends them through a mail.Mailer.
type MailNotifier struct {
	Mailer mail.Mailer
	// BillingURL is linked from payment failure emails.
	BillingURL string
}

func NewMailNotifier(m mail.Mailer, billingURL string) *MailNotifier {
	return &MailNotifier{Mailer: m, BillingURL: billingURL}
}

func (n *MailNotifier) Notify(ctx context.Context, user *models.User, entry *models.EmailLog) error {
	msg := mail.Message{
		ToName:  user.Name,
		To:      entry.Email,
		Subject: entry.Subject,
	}
	name := html.EscapeString(user.Name)
	if name == "" {
		name = "there"
	}

	switch entry.Type {
	case models.EmailTypeSubscriptionConfirmed:
		msg.HTML = fmt.Sprintf(`<p>Hi %s,</p>
<p>Your PRO subscription is active. All premium research is now unlocked.</p>
<p>Thanks for supporting us.</p>`, name)
	case models.EmailTypePaymentFailed:
		msg.HTML = fmt.Sprintf(`<p>Hi %s,</p>
<p>We could not collect your latest subscription payment. Please update your payment method to keep PRO access:</p>
<p><a href="%s">Manage billing</a></p>`, name, html.EscapeString(n.BillingURL))
	default:
		return fmt.Errorf("unknown billing email type %q", entry.Type)
	}

	return n.Mailer.Send(ctx, msg)
}
