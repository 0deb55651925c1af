package models

import "time"

const (
	EmailTypeSubscriptionConfirmed = "SUBSCRIPTION_CONFIRMED"
	EmailTypePaymentFailed         = "PAYMENT_FAILED"
)

const (
	EmailStatusQueued = "QUEUED"
	EmailStatusSent   = "SENT"
)

// EmailLog is an append-only audit record of a billing notification. The
// (user_id, type, reference) triple identifies the underlying provider event,
// so a redelivered event can never produce a second row.
type EmailLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_email_logs_user_type_ref,unique,priority:1" json:"user_id"`
	Email     string    `gorm:"type:varchar(200);not null" json:"email"`
	Type      string    `gorm:"type:varchar(50);not null;index:ux_email_logs_user_type_ref,unique,priority:2" json:"type"`
	Reference string    `gorm:"type:varchar(191);not null;index:ux_email_logs_user_type_ref,unique,priority:3" json:"reference"`
	Subject   string    `gorm:"type:varchar(255);not null" json:"subject"`
	Status    string    `gorm:"type:varchar(20);not null;default:'QUEUED'" json:"status"`
	SentAt    time.Time `gorm:"type:timestamp;not null" json:"sent_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
