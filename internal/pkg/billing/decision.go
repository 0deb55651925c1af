package billing

import (
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

type decisionInput struct {
	stored           Entitlement
	storedObservedAt *time.Time
	snapshot         Snapshot
	// customerTaken is set when snapshot.CustomerID already belongs to
	// another user.
	customerTaken bool
}

type decision struct {
	outcome    Outcome
	next       Entitlement
	observedAt time.Time
	effects    []SideEffect
	reason     string
	// customerMismatch flags a snapshot whose customer differs from the one
	// already stored. The stored customer is kept.
	customerMismatch bool
}

// decide computes the next entitlement for one snapshot. It has no side
// effects; the engine persists and notifies based on the result.
func decide(in decisionInput) decision {
	stored, snap := in.stored, in.snapshot
	d := decision{
		outcome:    OutcomeNoop,
		next:       stored,
		observedAt: laterOf(in.storedObservedAt, snap.ObservedAt),
	}

	if snap.SubscriptionID == "" {
		d.outcome = OutcomeIgnored
		d.reason = "snapshot has no subscription id"
		return d
	}
	current := stored.SubscriptionID == snap.SubscriptionID

	switch snap.Kind {
	case SnapshotPaymentFailed:
		if !current {
			return superseded(d, "payment failure for a subscription that is not current")
		}
		ref := snap.InvoiceID
		if ref == "" {
			ref = snap.SubscriptionID
		}
		d.outcome = OutcomeNotified
		d.effects = []SideEffect{{
			Type:      models.EmailTypePaymentFailed,
			Reference: ref,
			Subject:   "Your payment failed",
		}}
		return d

	case SnapshotDeleted:
		// Deletion is terminal, so it is applied whatever its timestamp.
		if !current {
			return superseded(d, "deletion of a subscription that is not current")
		}
		d.next.Plan = entitlements.PlanFree
		d.next.SubscriptionID = ""
		d.next.PriceID = ""
		d.next.CurrentPeriodEnd = nil
		d.next.CancelAtPeriodEnd = false
		return finish(d, stored)
	}

	if isStale(in.storedObservedAt, snap.ObservedAt) {
		d.outcome = OutcomeStale
		d.reason = "snapshot observed before the stored state"
		return d
	}

	if IsEntitlingStatus(snap.Status) {
		if current && periodRegresses(stored.CurrentPeriodEnd, snap.CurrentPeriodEnd) {
			d.outcome = OutcomeStale
			d.reason = "current period end moves backwards"
			return d
		}
		d.next.Plan = entitlements.PlanPro
		d.next.SubscriptionID = snap.SubscriptionID
		if snap.PriceID != "" || !current {
			d.next.PriceID = snap.PriceID
		}
		d.next.CurrentPeriodEnd = snap.CurrentPeriodEnd
		d.next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd

		if stored.Plan != entitlements.PlanPro && !current {
			d.effects = []SideEffect{{
				Type:      models.EmailTypeSubscriptionConfirmed,
				Reference: snap.SubscriptionID,
				Subject:   "Welcome to PRO",
			}}
		}
	} else {
		if !current {
			return superseded(d, "non-entitling status for a subscription that is not current")
		}
		d.next.Plan = entitlements.PlanFree
		if snap.PriceID != "" {
			d.next.PriceID = snap.PriceID
		}
		if snap.CurrentPeriodEnd != nil {
			d.next.CurrentPeriodEnd = snap.CurrentPeriodEnd
		}
		d.next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	}

	switch {
	case snap.CustomerID == "":
	case stored.CustomerID == "" && !in.customerTaken:
		d.next.CustomerID = snap.CustomerID
	case stored.CustomerID != "" && stored.CustomerID != snap.CustomerID:
		d.customerMismatch = true
	}

	return finish(d, stored)
}

func finish(d decision, stored Entitlement) decision {
	if d.next.Equal(stored) {
		d.outcome = OutcomeNoop
		d.effects = nil
		return d
	}
	d.outcome = OutcomeApplied
	return d
}

func superseded(d decision, reason string) decision {
	d.outcome = OutcomeSuperseded
	d.reason = reason
	return d
}

func isStale(storedObservedAt *time.Time, observedAt time.Time) bool {
	if storedObservedAt == nil || observedAt.IsZero() {
		return false
	}
	return observedAt.Before(*storedObservedAt)
}

func periodRegresses(stored, next *time.Time) bool {
	if stored == nil || next == nil {
		return false
	}
	return next.Before(*stored)
}

func laterOf(stored *time.Time, observed time.Time) time.Time {
	if stored == nil {
		return observed
	}
	if observed.After(*stored) {
		return observed
	}
	return *stored
}
