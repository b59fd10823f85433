package testutil

import (
	"fmt"
	"time"

	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/google/uuid"
)

// ValidSignature is the signature FakeVerifier accepts.
const ValidSignature = "valid-signature"

// PurchaseOption customizes a test purchase.
type PurchaseOption func(*purchase.Purchase)

// WithToken sets an explicit purchase token.
func WithToken(token string) PurchaseOption {
	return func(p *purchase.Purchase) {
		p.PurchaseToken = token
	}
}

// WithPurchaseTime sets the transaction time.
func WithPurchaseTime(t time.Time) PurchaseOption {
	return func(p *purchase.Purchase) {
		p.PurchaseTime = t
	}
}

// WithQuantity sets the unit count.
func WithQuantity(q int) PurchaseOption {
	return func(p *purchase.Purchase) {
		p.Quantity = q
	}
}

// WithSignature overrides the default fixture signature.
func WithSignature(sig string) PurchaseOption {
	return func(p *purchase.Purchase) {
		p.Signature = sig
	}
}

// WithState sets the lifecycle state directly, bypassing transitions.
func WithState(s purchase.State) PurchaseOption {
	return func(p *purchase.Purchase) {
		p.State = s
	}
}

// NewTestPurchase creates a purchase for a product with a fresh token, a
// JSON payload consistent with its fields, and the signature FakeVerifier
// accepts.
func NewTestPurchase(productID string, opts ...PurchaseOption) *purchase.Purchase {
	p := &purchase.Purchase{
		ProductID:     productID,
		PurchaseToken: uuid.New().String(),
		Signature:     ValidSignature,
		Quantity:      1,
		PurchaseTime:  time.Now().Truncate(time.Millisecond),
		State:         purchase.StateObserved,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.OriginalPayload = fmt.Sprintf(
		`{"productId":%q,"purchaseToken":%q,"purchaseTime":%d,"quantity":%d}`,
		p.ProductID, p.PurchaseToken, p.PurchaseTime.UnixMilli(), p.Quantity,
	)
	return p
}
