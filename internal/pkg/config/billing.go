package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mindreaderbio/platform/internal/pkg/constants"
	"github.com/mindreaderbio/platform/internal/pkg/env"
)

// Billing holds the Stripe settings. SecretKey and ProPriceID may be empty at
// load time; the checkout flow reports them as configuration errors on use.
type Billing struct {
	SecretKey       string
	WebhookSecret   string
	ProPriceID      string
	AppURL          string        `validate:"required,url"`
	SuccessPath     string        `validate:"required,startswith=/"`
	CancelPath      string        `validate:"required,startswith=/"`
	PortalPath      string        `validate:"required,startswith=/"`
	ProviderTimeout time.Duration `validate:"gt=0"`
	ViewCacheTTL    time.Duration `validate:"gte=0"`
	BackfillWorkers int           `validate:"min=1,max=32"`

	// EmailWorkers is the number of queue workers sending billing emails.
	// Zero sends them inline after the entitlement write.
	EmailWorkers int `validate:"min=0,max=16"`
}

// LoadBilling reads the billing settings from the environment.
func LoadBilling() (Billing, error) {
	cfg := Billing{
		SecretKey:       env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:   env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProPriceID:      env.GetEnv("STRIPE_PRO_PRICE_ID", ""),
		AppURL:          strings.TrimRight(env.GetEnv("APP_URL", "http://localhost:4000"), "/"),
		SuccessPath:     env.GetEnv("STRIPE_SUCCESS_PATH", constants.DashboardRoute+"?success=true"),
		CancelPath:      env.GetEnv("STRIPE_CANCEL_PATH", constants.PricingRoute+"?canceled=true"),
		PortalPath:      env.GetEnv("STRIPE_PORTAL_RETURN_PATH", constants.DashboardRoute),
		ProviderTimeout: durationEnv("STRIPE_TIMEOUT", 15*time.Second),
		ViewCacheTTL:    durationEnv("BILLING_VIEW_CACHE_TTL", 30*time.Second),
		BackfillWorkers: 4,
		EmailWorkers:    intEnv("BILLING_EMAIL_WORKERS", 2),
	}
	return cfg, cfg.Validate()
}

// Validate checks the shape of the settings.
func (b Billing) Validate() error {
	return validator.New().Struct(b)
}

func (b Billing) SuccessURL() string { return b.AppURL + b.SuccessPath }
func (b Billing) CancelURL() string  { return b.AppURL + b.CancelPath }
func (b Billing) PortalURL() string  { return b.AppURL + b.PortalPath }

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(env.GetEnv(key, "")))
	if err != nil {
		return def
	}
	return n
}
