package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/config"
)

const testWebhookSecret = "whsec_test"

// fakeStore is an in-memory Store and EventLedger with row-copy semantics.
type fakeStore struct {
	mu     sync.Mutex
	users  map[uint]*models.User
	emails []models.EmailLog
	events []*models.BillingWebhookEvent

	// beforeUpdate runs inside UpdateEntitlement before the version check.
	beforeUpdate func(userID uint)
	updateErr    error
	updates      int
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{users: map[uint]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) user(id uint) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.users[id])
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (s *fakeStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *fakeStore) UserByID(_ context.Context, id uint) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *fakeStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Email == email })
}

func (s *fakeStore) UserBySubscriptionID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return id != "" && u.SubscriptionID() == id })
}

func (s *fakeStore) UserByCustomerID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return id != "" && u.CustomerID() == id })
}

func (s *fakeStore) UsersWithCustomer(context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.CustomerID() != "" {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateEntitlement(_ context.Context, userID, expectedVersion uint, e Entitlement, observedAt time.Time, emails []*models.EmailLog) ([]*models.EmailLog, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate(userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	u, ok := s.users[userID]
	if !ok || u.BillingVersion != expectedVersion {
		return nil, ErrVersionConflict
	}
	u.Plan = string(e.Plan)
	if e.CustomerID != "" {
		u.StripeCustomerID = strPtr(e.CustomerID)
	}
	u.StripeSubscriptionID = optional(e.SubscriptionID)
	u.StripePriceID = optional(e.PriceID)
	u.StripeCurrentPeriodEnd = e.CurrentPeriodEnd
	u.StripeCancelAtPeriodEnd = e.CancelAtPeriodEnd
	if !observedAt.IsZero() {
		t := observedAt
		u.BillingObservedAt = &t
	}
	u.BillingVersion++
	s.updates++

	var created []*models.EmailLog
	for _, entry := range emails {
		if s.recordEmailLocked(entry) {
			created = append(created, entry)
		}
	}
	return created, nil
}

func (s *fakeStore) LinkCustomer(_ context.Context, userID uint, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.CustomerID() != "" {
		return false, nil
	}
	u.StripeCustomerID = strPtr(customerID)
	return true, nil
}

func (s *fakeStore) RecordEmail(_ context.Context, entry *models.EmailLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordEmailLocked(entry), nil
}

func (s *fakeStore) recordEmailLocked(entry *models.EmailLog) bool {
	for _, e := range s.emails {
		if e.UserID == entry.UserID && e.Type == entry.Type && e.Reference == entry.Reference {
			return false
		}
	}
	entry.ID = uint(len(s.emails) + 1)
	s.emails = append(s.emails, *entry)
	return true
}

func (s *fakeStore) setUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

func (s *fakeStore) MarkEmailSent(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.emails {
		if s.emails[i].ID == id && s.emails[i].Status == models.EmailStatusQueued {
			s.emails[i].Status = models.EmailStatusSent
			s.emails[i].SentAt = at
		}
	}
	return nil
}

func (s *fakeStore) RecentEmails(_ context.Context, userID uint, limit int) ([]models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailLog
	for i := len(s.emails) - 1; i >= 0 && len(out) < limit; i-- {
		if s.emails[i].UserID == userID {
			out = append(out, s.emails[i])
		}
	}
	return out, nil
}

func (s *fakeStore) emailLog() []models.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmailLog(nil), s.emails...)
}

func (s *fakeStore) RecordWebhookEvent(_ context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Provider == in.Provider && e.ProviderEventID == in.ProviderEventID {
			c := *e
			return false, &c, nil
		}
	}
	e := &models.BillingWebhookEvent{
		ID:              uint(len(s.events) + 1),
		Provider:        in.Provider,
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	s.events = append(s.events, e)
	c := *e
	return true, &c, nil
}

func (s *fakeStore) MarkWebhookProcessed(_ context.Context, id uint, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = ""
			if processingErr != nil {
				e.ProcessingError = processingErr.Error()
			}
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

// fakeProvider keeps subscriptions in memory and verifies webhooks with the
// real Stripe signature scheme.
type fakeProvider struct {
	mu             sync.Mutex
	subs           map[string]Snapshot
	retrieveErr    error
	listErr        map[string]error
	retrieveCalls  int
	listCalls      int
	customerSeq    int
	customers      []CustomerInput
	checkouts      []CheckoutInput
	portalErr      error
	invoices       map[string][]Invoice
	updateSubCalls int
}

func newFakeProvider(subs ...Snapshot) *fakeProvider {
	p := &fakeProvider{
		subs:     map[string]Snapshot{},
		listErr:  map[string]error{},
		invoices: map[string][]Invoice{},
	}
	for _, s := range subs {
		p.subs[s.SubscriptionID] = s
	}
	return p
}

func (p *fakeProvider) put(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[s.SubscriptionID] = s
}

func (p *fakeProvider) RetrieveSubscription(_ context.Context, id string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieveCalls++
	if p.retrieveErr != nil {
		return Snapshot{}, p.retrieveErr
	}
	s, ok := p.subs[id]
	if !ok {
		return Snapshot{}, ErrSubscriptionNotFound
	}
	return apiSnapshot(s), nil
}

// apiSnapshot strips the event time, as API reads carry none.
func apiSnapshot(s Snapshot) Snapshot {
	s.ObservedAt = time.Time{}
	return s
}

func (p *fakeProvider) ListSubscriptions(_ context.Context, customerID, status string) ([]Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if err := p.listErr[customerID]; err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, s := range p.subs {
		if s.CustomerID == customerID && (status == "" || s.Status == status) {
			out = append(out, apiSnapshot(s))
		}
	}
	return out, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, in CustomerInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customerSeq++
	p.customers = append(p.customers, in)
	return "cus_" + strconv.Itoa(p.customerSeq), nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, in CheckoutInput) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, in)
	id := fmt.Sprintf("cs_%d", len(p.checkouts))
	return &CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (p *fakeProvider) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if p.portalErr != nil {
		return "", p.portalErr
	}
	return "https://billing.stripe.test/" + customerID + "?return=" + returnURL, nil
}

func (p *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateSubCalls++
	s, ok := p.subs[id]
	if !ok {
		return Snapshot{}, ErrSubscriptionNotFound
	}
	s.CancelAtPeriodEnd = cancel
	s.CancelAt = nil
	if cancel {
		s.CancelAt = s.CurrentPeriodEnd
	}
	p.subs[id] = s
	return apiSnapshot(s), nil
}

func (p *fakeProvider) ListInvoices(_ context.Context, subscriptionID string, limit int) ([]Invoice, error) {
	inv := p.invoices[subscriptionID]
	if len(inv) > limit {
		inv = inv[:limit]
	}
	return inv, nil
}

func (p *fakeProvider) ConstructEvent(payload []byte, header string) (*Event, error) {
	return constructStripeEvent(payload, header, testWebhookSecret)
}

func (p *fakeProvider) retrieves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retrieveCalls
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.EmailLog
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *models.User, entry *models.EmailLog) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *entry)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func newTestUser(id uint, email string) *models.User {
	return &models.User{
		ID:     id,
		Name:   "User " + strconv.Itoa(int(id)),
		Email:  email,
		Role:   models.ROLE_USER,
		Status: models.STATUS_ACTIVE,
		Plan:   models.PLAN_FREE,
	}
}

func testBillingConfig() config.Billing {
	return config.Billing{
		SecretKey:       "sk_test_123",
		WebhookSecret:   testWebhookSecret,
		ProPriceID:      "price_pro",
		AppURL:          "https://app.example.com",
		SuccessPath:     "/dashboard?success=true",
		CancelPath:      "/pricing?canceled=true",
		PortalPath:      "/dashboard",
		ProviderTimeout: 5 * time.Second,
		BackfillWorkers: 2,
	}
}

// signPayload builds a Stripe-Signature header for payload.
func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// testHarness wires a service over the fakes.
type testHarness struct {
	store    *fakeStore
	provider *fakeProvider
	notifier *recordingNotifier
	clock    *fakeClock
	svc      *Service
}

func newHarness(users ...*models.User) *testHarness {
	h := &testHarness{
		store:    newFakeStore(users...),
		provider: newFakeProvider(),
		notifier: &recordingNotifier{},
		clock:    newFakeClock(),
	}
	h.svc = NewService(Deps{
		Store:    h.store,
		Ledger:   h.store,
		Provider: h.provider,
		Config:   testBillingConfig(),
		Notifier: h.notifier,
	})
	h.svc.Engine.now = h.clock.Now
	return h
}

var errBoom = errors.New("boom")
