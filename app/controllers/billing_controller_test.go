package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindreaderbio/platform/internal/pkg/billing"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
	"github.com/mindreaderbio/platform/internal/pkg/usercontext"
)

type stubBilling struct {
	ingestResult *billing.IngestResult
	ingestErr    error
	gotSignature string

	checkoutURL string
	checkoutErr error
	gotPlan     string
	portalURL   string
	portalErr   error

	view    *billing.EntitlementView
	viewErr error

	cancelAt  *time.Time
	cancelErr error
	resumeErr error

	details    *billing.SubscriptionDetails
	detailsErr error
	gotUserID  uint
}

func (s *stubBilling) Ingest(_ context.Context, _ []byte, sig string) (*billing.IngestResult, error) {
	s.gotSignature = sig
	return s.ingestResult, s.ingestErr
}

func (s *stubBilling) StartCheckout(_ context.Context, userID uint, plan string) (string, error) {
	s.gotUserID, s.gotPlan = userID, plan
	return s.checkoutURL, s.checkoutErr
}

func (s *stubBilling) OpenBillingPortal(_ context.Context, userID uint) (string, error) {
	s.gotUserID = userID
	return s.portalURL, s.portalErr
}

func (s *stubBilling) RefreshForUser(_ context.Context, userID uint) (*billing.EntitlementView, error) {
	s.gotUserID = userID
	return s.view, s.viewErr
}

func (s *stubBilling) Cancel(_ context.Context, userID uint) (*time.Time, error) {
	s.gotUserID = userID
	return s.cancelAt, s.cancelErr
}

func (s *stubBilling) Resume(_ context.Context, userID uint) error {
	s.gotUserID = userID
	return s.resumeErr
}

func (s *stubBilling) Details(_ context.Context, userID uint) (*billing.SubscriptionDetails, error) {
	s.gotUserID = userID
	return s.details, s.detailsErr
}

func newBillingTestApp(stub *stubBilling) *fiber.App {
	bc := &BillingController{
		webhooks:       stub,
		checkout:       stub,
		poller:         stub,
		lifecycle:      stub,
		inspector:      stub,
		validate:       validator.New(),
		resyncRedirect: "/dashboard",
	}

	app := fiber.New()
	app.Post("/api/stripe/webhook", bc.HandleWebhook)
	app.Use(func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.UserContext{UserID: 42, IsLoggedIn: true, Plan: entitlements.PlanFree})
		return c.Next()
	})
	app.Post("/api/stripe/checkout", bc.HandleCheckout)
	app.Post("/api/stripe/portal", bc.HandlePortal)
	app.Get("/api/stripe/subscription/status", bc.HandleSubscriptionStatus)
	app.Post("/api/stripe/subscription/cancel", bc.HandleCancel)
	app.Post("/api/stripe/subscription/resume", bc.HandleResume)
	app.Post("/user/settings/billing/resync", bc.HandleResync)
	app.Get("/api/admin/users/:id/stripe-details", bc.HandleAdminStripeDetails)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]interface{}{}
	if resp.Header.Get("Content-Type") == fiber.MIMEApplicationJSON {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHandleWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"processed", nil, fiber.StatusOK},
		{"bad signature", billing.ErrInvalidSignature, fiber.StatusBadRequest},
		{"bad payload", billing.ErrInvalidPayload, fiber.StatusBadRequest},
		{"persistence", &billing.PersistenceError{Op: "update", Err: errors.New("db down")}, fiber.StatusInternalServerError},
		{"provider", &billing.ProviderError{Op: "retrieve", StatusCode: 503, Err: errors.New("unavailable")}, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubBilling{
				ingestResult: &billing.IngestResult{EventID: "evt_1", Outcome: billing.OutcomeApplied},
				ingestErr:    tc.err,
			}
			req := httptest.NewRequest(fiber.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			resp, err := newBillingTestApp(stub).Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "t=1,v1=abc", stub.gotSignature)
		})
	}
}

func TestHandleCheckout(t *testing.T) {
	stub := &stubBilling{checkoutURL: "https://checkout.stripe.test/cs_1"}
	app := newBillingTestApp(stub)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/stripe/checkout", map[string]string{"plan": "PRO"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", body["url"])
	assert.Equal(t, uint(42), stub.gotUserID)
	assert.Equal(t, "PRO", stub.gotPlan)

	resp, body = doJSON(t, app, fiber.MethodPost, "/api/stripe/checkout", map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request", body["error"])
}

func TestHandleCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"invalid plan", billing.ErrInvalidPlan, fiber.StatusBadRequest, "invalid plan"},
		{"already subscribed", billing.ErrAlreadySubscribed, fiber.StatusBadRequest, "already subscribed"},
		{"configuration", &billing.ConfigurationError{Setting: "STRIPE_PRO_PRICE_ID"}, fiber.StatusInternalServerError, "billing is not configured"},
		{"provider", &billing.ProviderError{Op: "checkout", StatusCode: 500, Err: errors.New("boom")}, fiber.StatusBadGateway, "payment provider unavailable"},
		{"unknown user", billing.ErrUserNotFound, fiber.StatusNotFound, "user not found"},
		{"persistence", &billing.PersistenceError{Op: "link", Err: errors.New("db")}, fiber.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newBillingTestApp(&stubBilling{checkoutErr: tc.err})
			resp, body := doJSON(t, app, fiber.MethodPost, "/api/stripe/checkout", map[string]string{"plan": "PRO"})
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.msg, body["error"])
			assert.NotEmpty(t, body["details"])
		})
	}
}

func TestHandlePortalConfigurationIsClientError(t *testing.T) {
	app := newBillingTestApp(&stubBilling{portalErr: &billing.ConfigurationError{Setting: "billing portal"}})
	resp, body := doJSON(t, app, fiber.MethodPost, "/api/stripe/portal", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "billing is not configured", body["error"])

	app = newBillingTestApp(&stubBilling{portalURL: "https://billing.stripe.test/cus_1"})
	resp, body = doJSON(t, app, fiber.MethodPost, "/api/stripe/portal", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://billing.stripe.test/cus_1", body["url"])
}

func TestHandleSubscriptionStatus(t *testing.T) {
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	stub := &stubBilling{view: &billing.EntitlementView{
		UserID:          42,
		HasSubscription: true,
		Plan:            entitlements.PlanPro,
		CustomerID:      "cus_1",
		Subscription: &billing.SubscriptionView{
			ID:               "sub_1",
			Status:           billing.StatusActive,
			CurrentPeriodEnd: &end,
			PriceID:          "price_pro",
		},
	}}
	resp, body := doJSON(t, newBillingTestApp(stub), fiber.MethodGet, "/api/stripe/subscription/status", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["hasSubscription"])
	assert.Equal(t, "PRO", body["plan"])
	assert.Equal(t, "cus_1", body["customerId"])
	sub, ok := body["subscription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sub_1", sub["id"])
	assert.Equal(t, "active", sub["status"])
}

func TestHandleCancelAndResume(t *testing.T) {
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	stub := &stubBilling{cancelAt: &end}
	app := newBillingTestApp(stub)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/stripe/subscription/cancel", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2024-04-01T00:00:00Z", body["cancelAt"])

	resp, body = doJSON(t, app, fiber.MethodPost, "/api/stripe/subscription/resume", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	app = newBillingTestApp(&stubBilling{cancelErr: billing.ErrNoSubscription})
	resp, body = doJSON(t, app, fiber.MethodPost, "/api/stripe/subscription/cancel", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no active subscription", body["error"])
}

func TestHandleResyncRedirects(t *testing.T) {
	stub := &stubBilling{view: &billing.EntitlementView{Plan: entitlements.PlanPro}}
	resp, _ := doJSON(t, newBillingTestApp(stub), fiber.MethodPost, "/user/settings/billing/resync", nil)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	assert.Equal(t, uint(42), stub.gotUserID)

	stub = &stubBilling{viewErr: &billing.ProviderError{Op: "retrieve", Err: errors.New("timeout")}}
	resp, _ = doJSON(t, newBillingTestApp(stub), fiber.MethodPost, "/user/settings/billing/resync", nil)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestHandleAdminStripeDetails(t *testing.T) {
	stub := &stubBilling{details: &billing.SubscriptionDetails{UserID: 7, Email: "u7@example.com"}}
	app := newBillingTestApp(stub)

	resp, _ := doJSON(t, app, fiber.MethodGet, "/api/admin/users/abc/stripe-details", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/admin/users/7/stripe-details", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, uint(7), stub.gotUserID)
}
