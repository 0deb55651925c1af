package constants

// Route constants shared by the router and the auth guards
const (
	LoginRoute   = "/login"
	WebhookRoute = "/api/stripe/webhook"
	// Stripe redirects back to the dashboard after checkout and the portal
	DashboardRoute = "/dashboard"
	PricingRoute   = "/pricing"
)
