package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// --- Entitlement Store Mock ---

// MockEntitlementStore is a mock implementation of entitlement.Store.
// It tracks write counts so tests can assert the steady-state path does
// no cache writes.
type MockEntitlementStore struct {
	mu           sync.Mutex
	entitlements map[entitlement.Kind]*entitlement.Entitlement
	purchases    map[string]*purchase.Purchase
	products     map[string]*entitlement.ProductRecord
	writes       int

	GetEntitlementFunc     func(ctx context.Context, kind entitlement.Kind) (*entitlement.Entitlement, error)
	UpsertEntitlementFunc  func(ctx context.Context, e *entitlement.Entitlement) error
	GetCachedPurchasesFunc func(ctx context.Context) ([]*purchase.Purchase, error)
	InsertPurchasesFunc    func(ctx context.Context, purchases []*purchase.Purchase) error
	DeletePurchaseFunc     func(ctx context.Context, purchaseToken string) error
}

func NewMockEntitlementStore() *MockEntitlementStore {
	return &MockEntitlementStore{
		entitlements: make(map[entitlement.Kind]*entitlement.Entitlement),
		purchases:    make(map[string]*purchase.Purchase),
		products:     make(map[string]*entitlement.ProductRecord),
	}
}

func (m *MockEntitlementStore) GetEntitlement(ctx context.Context, kind entitlement.Kind) (*entitlement.Entitlement, error) {
	if m.GetEntitlementFunc != nil {
		return m.GetEntitlementFunc(ctx, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[kind]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (m *MockEntitlementStore) UpsertEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	if m.UpsertEntitlementFunc != nil {
		return m.UpsertEntitlementFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.entitlements[e.Kind] = &copied
	m.writes++
	return nil
}

func (m *MockEntitlementStore) GetCachedPurchases(ctx context.Context) ([]*purchase.Purchase, error) {
	if m.GetCachedPurchasesFunc != nil {
		return m.GetCachedPurchasesFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*purchase.Purchase, 0, len(m.purchases))
	for _, p := range m.purchases {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockEntitlementStore) InsertPurchases(ctx context.Context, purchases []*purchase.Purchase) error {
	if m.InsertPurchasesFunc != nil {
		return m.InsertPurchasesFunc(ctx, purchases)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range purchases {
		if _, exists := m.purchases[p.PurchaseToken]; exists {
			continue
		}
		m.purchases[p.PurchaseToken] = p
		m.writes++
	}
	return nil
}

func (m *MockEntitlementStore) DeletePurchase(ctx context.Context, purchaseToken string) error {
	if m.DeletePurchaseFunc != nil {
		return m.DeletePurchaseFunc(ctx, purchaseToken)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.purchases, purchaseToken)
	m.writes++
	return nil
}

func (m *MockEntitlementStore) SetProductPurchasable(ctx context.Context, productID string, purchasable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.products[productID]
	if !ok {
		rec = &entitlement.ProductRecord{ProductID: productID, Purchasable: true}
		m.products[productID] = rec
	}
	rec.Purchasable = purchasable
	rec.UpdatedAt = time.Now()
	m.writes++
	return nil
}

func (m *MockEntitlementStore) UpsertProductRecord(ctx context.Context, rec *entitlement.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	if existing, ok := m.products[rec.ProductID]; ok {
		copied.Purchasable = existing.Purchasable
	}
	m.products[rec.ProductID] = &copied
	m.writes++
	return nil
}

func (m *MockEntitlementStore) ListProductRecords(ctx context.Context) ([]*entitlement.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entitlement.ProductRecord, 0, len(m.products))
	for _, rec := range m.products {
		copied := *rec
		out = append(out, &copied)
	}
	return out, nil
}

// AddCachedPurchase pre-populates the mock with a cached purchase.
func (m *MockEntitlementStore) AddCachedPurchase(p *purchase.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.PurchaseToken] = p
}

// SetEntitlement pre-populates the mock with an entitlement.
func (m *MockEntitlementStore) SetEntitlement(e *entitlement.Entitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitlements[e.Kind] = e
}

// Entitlement returns the stored record for a kind, or nil.
func (m *MockEntitlementStore) Entitlement(kind entitlement.Kind) *entitlement.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entitlements[kind]
}

// CachedPurchaseCount returns the number of cached purchase rows.
func (m *MockEntitlementStore) CachedPurchaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.purchases)
}

// HasCachedPurchase reports whether a token is cached.
func (m *MockEntitlementStore) HasCachedPurchase(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.purchases[token]
	return ok
}

// Purchasable reports a product's purchasability; absent records default
// to true.
func (m *MockEntitlementStore) Purchasable(productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.products[productID]
	if !ok {
		return true
	}
	return rec.Purchasable
}

// WriteCount returns how many mutating calls the store has seen.
func (m *MockEntitlementStore) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// --- Verification Server Mock ---

// MockVerificationServer is a mock implementation of
// providers.VerificationServer.
type MockVerificationServer struct {
	mu              sync.Mutex
	notified        [][]*purchase.Purchase
	serverPurchases []*purchase.Purchase
	calls           int

	NotifyErr error
	QueryErr  error
}

func NewMockVerificationServer() *MockVerificationServer {
	return &MockVerificationServer{}
}

func (m *MockVerificationServer) NotifyNewPurchases(ctx context.Context, batch []*purchase.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.NotifyErr != nil {
		return m.NotifyErr
	}
	copied := make([]*purchase.Purchase, len(batch))
	copy(copied, batch)
	m.notified = append(m.notified, copied)
	return nil
}

func (m *MockVerificationServer) QueryServerPurchases(ctx context.Context) ([]*purchase.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	out := make([]*purchase.Purchase, len(m.serverPurchases))
	copy(out, m.serverPurchases)
	return out, nil
}

// SetServerPurchases sets what QueryServerPurchases returns.
func (m *MockVerificationServer) SetServerPurchases(purchases []*purchase.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverPurchases = purchases
}

// NotifiedBatches returns every batch passed to NotifyNewPurchases.
func (m *MockVerificationServer) NotifiedBatches() [][]*purchase.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notified
}

// CallCount returns the total number of server calls.
func (m *MockVerificationServer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Throttle Gate Mock ---

// MockThrottleGate is a settable throttle gate.
type MockThrottleGate struct {
	mu           sync.Mutex
	stale        bool
	refreshCount int
}

func NewMockThrottleGate(stale bool) *MockThrottleGate {
	return &MockThrottleGate{stale: stale}
}

func (m *MockThrottleGate) IsStale(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

func (m *MockThrottleGate) Refresh(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale = false
	m.refreshCount++
	return nil
}

// SetStale flips the gate.
func (m *MockThrottleGate) SetStale(stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale = stale
}

// RefreshCount returns how many times the mark was refreshed.
func (m *MockThrottleGate) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// --- Signature Verifier Fake ---

// FakeVerifier accepts exactly the fixture signature unless overridden.
type FakeVerifier struct {
	VerifyFunc func(payload, signature string) bool
}

func (f *FakeVerifier) Verify(payload, signature string) bool {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(payload, signature)
	}
	return payload != "" && signature == ValidSignature
}
