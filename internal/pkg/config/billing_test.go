package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBillingFromEnv(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_PRO_PRICE_ID", "price_pro")
	t.Setenv("APP_URL", "https://mindreader.example/")
	t.Setenv("STRIPE_TIMEOUT", "5s")

	cfg, err := LoadBilling()
	require.NoError(t, err)

	assert.Equal(t, "sk_test_123", cfg.SecretKey)
	assert.Equal(t, "price_pro", cfg.ProPriceID)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "https://mindreader.example/dashboard?success=true", cfg.SuccessURL())
	assert.Equal(t, "https://mindreader.example/pricing?canceled=true", cfg.CancelURL())
	assert.Equal(t, "https://mindreader.example/dashboard", cfg.PortalURL())
}

func TestLoadBillingInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("APP_URL", "https://mindreader.example")
	t.Setenv("STRIPE_TIMEOUT", "soon")

	cfg, err := LoadBilling()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 2, cfg.EmailWorkers)
}

func TestLoadBillingEmailWorkers(t *testing.T) {
	t.Setenv("APP_URL", "https://mindreader.example")
	t.Setenv("BILLING_EMAIL_WORKERS", "0")

	cfg, err := LoadBilling()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.EmailWorkers)

	t.Setenv("BILLING_EMAIL_WORKERS", "64")
	_, err = LoadBilling()
	assert.Error(t, err)
}

func TestBillingValidateRejectsBadURL(t *testing.T) {
	cfg := Billing{
		AppURL:          "not a url",
		SuccessPath:     "/ok",
		CancelPath:      "/cancel",
		PortalPath:      "/portal",
		ProviderTimeout: time.Second,
		BackfillWorkers: 1,
	}
	assert.Error(t, cfg.Validate())

	cfg.AppURL = "https://mindreader.example"
	assert.NoError(t, cfg.Validate())
}
