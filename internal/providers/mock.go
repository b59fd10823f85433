package providers

import (
	"context"
	"sync"
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	domainErrors "github.com/billingkit/entitlements/internal/domain/errors"
	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// MockBillingClient simulates the billing service for tests and dev mode.
// It dispatches events on goroutines the way a real RPC client would,
// except consume acks, which fire inline when latency is zero so tests
// stay deterministic.
type MockBillingClient struct {
	mu sync.Mutex

	events    Events
	ready     bool
	latency   time.Duration
	purchases map[catalog.ProductCategory][]*purchase.Purchase
	details   map[catalog.ProductCategory][]*ProductDetail
	consumed  []string

	connectFailures int // remaining StartConnection calls that fail
	subsSupported   bool
	consumeErr      error
}

type MockBillingOption func(*MockBillingClient)

// WithLatency adds a delay before event dispatch.
func WithLatency(d time.Duration) MockBillingOption {
	return func(c *MockBillingClient) { c.latency = d }
}

// WithConnectFailures makes the first n connection attempts fail.
func WithConnectFailures(n int) MockBillingOption {
	return func(c *MockBillingClient) { c.connectFailures = n }
}

// WithoutSubscriptions disables the subscriptions capability.
func WithoutSubscriptions() MockBillingOption {
	return func(c *MockBillingClient) { c.subsSupported = false }
}

// WithConsumeError makes every consume ack carry err.
func WithConsumeError(err error) MockBillingOption {
	return func(c *MockBillingClient) { c.consumeErr = err }
}

func NewMockBillingClient(opts ...MockBillingOption) *MockBillingClient {
	c := &MockBillingClient{
		purchases:     make(map[catalog.ProductCategory][]*purchase.Purchase),
		details:       make(map[catalog.ProductCategory][]*ProductDetail),
		subsSupported: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *MockBillingClient) SetEvents(ev Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ev
}

func (c *MockBillingClient) StartConnection() {
	c.mu.Lock()
	fail := c.connectFailures > 0
	if fail {
		c.connectFailures--
	} else {
		c.ready = true
	}
	ev := c.events
	latency := c.latency
	c.mu.Unlock()

	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		if fail {
			if ev.OnDisconnected != nil {
				ev.OnDisconnected()
			}
			return
		}
		if ev.OnConnected != nil {
			ev.OnConnected()
		}
	}()
}

func (c *MockBillingClient) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *MockBillingClient) EndConnection() {
	c.mu.Lock()
	c.ready = false
	ev := c.events
	c.mu.Unlock()

	if ev.OnDisconnected != nil {
		ev.OnDisconnected()
	}
}

// Disconnect simulates an unexpected connection loss.
func (c *MockBillingClient) Disconnect() {
	c.EndConnection()
}

func (c *MockBillingClient) QueryPurchases(ctx context.Context, category catalog.ProductCategory) ([]*purchase.Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil, domainErrors.ErrBillingNotReady
	}
	out := make([]*purchase.Purchase, len(c.purchases[category]))
	copy(out, c.purchases[category])
	return out, nil
}

func (c *MockBillingClient) IsFeatureSupported(feature Feature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if feature == FeatureSubscriptions {
		return c.subsSupported
	}
	return true
}

func (c *MockBillingClient) Consume(ctx context.Context, purchaseToken string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return domainErrors.ErrBillingNotReady
	}
	c.consumed = append(c.consumed, purchaseToken)
	ev := c.events
	ackErr := c.consumeErr
	latency := c.latency
	c.mu.Unlock()

	if ev.OnConsumeAck == nil {
		return nil
	}
	if latency == 0 {
		ev.OnConsumeAck(purchaseToken, ackErr)
		return nil
	}
	go func() {
		time.Sleep(latency)
		ev.OnConsumeAck(purchaseToken, ackErr)
	}()
	return nil
}

func (c *MockBillingClient) QueryProductDetails(ctx context.Context, category catalog.ProductCategory, productIDs []string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return domainErrors.ErrBillingNotReady
	}
	ev := c.events
	details := c.details[category]
	c.mu.Unlock()

	if ev.OnProductDetails != nil {
		ev.OnProductDetails(details)
	}
	return nil
}

// SetPurchases replaces the snapshot returned for a category.
func (c *MockBillingClient) SetPurchases(category catalog.ProductCategory, purchases []*purchase.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchases[category] = purchases
}

// SetProductDetails sets the details returned for a category.
func (c *MockBillingClient) SetProductDetails(category catalog.ProductCategory, details []*ProductDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[category] = details
}

// PushPurchaseUpdate simulates an asynchronous purchases-updated push.
func (c *MockBillingClient) PushPurchaseUpdate(purchases []*purchase.Purchase) {
	c.mu.Lock()
	ev := c.events
	c.mu.Unlock()

	if ev.OnPurchasesUpdated != nil {
		ev.OnPurchasesUpdated(purchases)
	}
}

// ConsumedTokens returns every token a consume was requested for.
func (c *MockBillingClient) ConsumedTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.consumed))
	copy(out, c.consumed)
	return out
}
