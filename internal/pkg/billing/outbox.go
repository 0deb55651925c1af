package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/jobqueue"
	"github.com/mindreaderbio/platform/internal/pkg/metrics"
)

// EmailJobType is the job type of queued billing emails.
const EmailJobType jobqueue.JobType = "billing_email"

// EmailQueueName prefixes the Redis keys of the billing email queue.
const EmailQueueName = "billing_email"

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// SentRecorder flips a logged email to SENT.
type SentRecorder interface {
	MarkEmailSent(ctx context.Context, emailLogID uint, at time.Time) error
}

type emailJobPayload struct {
	EmailLogID uint   `json:"email_log_id"`
	UserID     uint   `json:"user_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Type       string `json:"type"`
	Reference  string `json:"reference"`
	Subject    string `json:"subject"`
}

func (p emailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"email_log_id": p.EmailLogID,
		"user_id":      p.UserID,
		"name":         p.Name,
		"email":        p.Email,
		"type":         p.Type,
		"reference":    p.Reference,
		"subject":      p.Subject,
	}
}

// DeliveringNotifier sends through Notifier and then records the log row as
// SENT. A failed send leaves the row QUEUED.
type DeliveringNotifier struct {
	Notifier Notifier
	Sent     SentRecorder
	metrics  *metrics.BillingMetrics
	now      func() time.Time
}

func NewDeliveringNotifier(n Notifier, sent SentRecorder) *DeliveringNotifier {
	return &DeliveringNotifier{Notifier: n, Sent: sent, metrics: metrics.Billing(), now: time.Now}
}

func (d *DeliveringNotifier) Notify(ctx context.Context, user *models.User, entry *models.EmailLog) error {
	if err := d.Notifier.Notify(ctx, user, entry); err != nil {
		d.metrics.ObserveEmail(entry.Type, "failed")
		return err
	}
	d.metrics.ObserveEmail(entry.Type, "sent")
	if err := d.Sent.MarkEmailSent(ctx, entry.ID, d.now().UTC()); err != nil {
		// the mail is out; a retry would send it twice
		log.Errorf("[Billing] email log %d sent but not marked: %v", entry.ID, err)
	}
	return nil
}

// QueuedNotifier hands billing emails to the job queue. The engine's write
// does not wait on the mail provider.
type QueuedNotifier struct {
	queue Enqueuer
}

func NewQueuedNotifier(q Enqueuer) *QueuedNotifier {
	return &QueuedNotifier{queue: q}
}

func (n *QueuedNotifier) Notify(ctx context.Context, user *models.User, entry *models.EmailLog) error {
	payload := emailJobPayload{
		EmailLogID: entry.ID,
		UserID:     user.ID,
		Name:       user.Name,
		Email:      entry.Email,
		Type:       entry.Type,
		Reference:  entry.Reference,
		Subject:    entry.Subject,
	}
	if _, err := n.queue.Enqueue(ctx, EmailJobType, payload.ToMap()); err != nil {
		return fmt.Errorf("enqueue %s email: %w", entry.Type, err)
	}
	return nil
}

// EmailJobHandler delivers queued billing emails through n.
func EmailJobHandler(n Notifier) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) error {
		var p emailJobPayload
		if err := job.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode email job %s: %w", job.ID, err)
		}
		user := &models.User{ID: p.UserID, Name: p.Name, Email: p.Email}
		entry := &models.EmailLog{
			ID:        p.EmailLogID,
			UserID:    p.UserID,
			Email:     p.Email,
			Type:      p.Type,
			Reference: p.Reference,
			Subject:   p.Subject,
			Status:    models.EmailStatusQueued,
		}
		return n.Notify(ctx, user, entry)
	}
}
