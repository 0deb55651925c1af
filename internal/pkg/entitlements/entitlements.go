package entitlements

import (
	"strings"

	"github.com/mindreaderbio/platform/app/models"
)

type Plan string

const (
	PlanFree Plan = models.PLAN_FREE
	PlanPro  Plan = models.PLAN_PRO
)

// Content types that are only readable on the PRO plan.
const (
	ContentBiotechInsights  = "biotech_insights"
	ContentDetailedAnalysis = "detailed_analysis"
	ContentExclusiveReports = "exclusive_reports"
	ContentPortfolioDetails = "portfolio_details"
)

var proContentTypes = map[string]struct{}{
	ContentBiotechInsights:  {},
	ContentDetailedAnalysis: {},
	ContentExclusiveReports: {},
	ContentPortfolioDetails: {},
}

// ParsePlan maps a stored or user supplied plan name onto a known plan.
// Unknown values resolve to FREE.
func ParsePlan(raw string) Plan {
	if strings.EqualFold(strings.TrimSpace(raw), string(PlanPro)) {
		return PlanPro
	}
	return PlanFree
}

// IsValid reports whether raw names a known plan exactly.
func IsValid(raw string) bool {
	return raw == string(PlanFree) || raw == string(PlanPro)
}

// HasProAccess reports whether the plan grants access to paid content.
func HasProAccess(plan Plan) bool {
	return plan == PlanPro
}

// RequiresProAccess reports whether a content type is gated behind PRO.
func RequiresProAccess(contentType string) bool {
	_, ok := proContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ok
}

// AccessStatus is the access decision for one piece of content.
type AccessStatus struct {
	HasAccess   bool `json:"hasAccess"`
	RequiresPro bool `json:"requiresPro"`
	UserPlan    Plan `json:"userPlan"`
}

// ContentAccessStatus combines the user's plan with the content's gate.
func ContentAccessStatus(plan Plan, contentType string) AccessStatus {
	if plan == "" {
		plan = PlanFree
	}
	requiresPro := RequiresProAccess(contentType)
	return AccessStatus{
		HasAccess:   !requiresPro || HasProAccess(plan),
		RequiresPro: requiresPro,
		UserPlan:    plan,
	}
}

// ForUser returns the plan stored on a user row.
func ForUser(u *models.User) Plan {
	if u == nil {
		return PlanFree
	}
	return ParsePlan(u.Plan)
}
