package billing

import (
	"strings"

	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

// Provider subscription statuses.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPaused            = "paused"
)

// IsEntitlingStatus reports whether a subscription in this status grants PRO.
// past_due does not entitle.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive, StatusTrialing:
		return true
	default:
		return false
	}
}

// PlanForStatus maps a provider status to the plan it implies.
func PlanForStatus(status string) entitlements.Plan {
	if IsEntitlingStatus(status) {
		return entitlements.PlanPro
	}
	return entitlements.PlanFree
}
