package entitlement

import (
	"context"
	"time"

	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// ProductRecord is the cached, display-oriented view of one catalog
// product, including whether it can currently be purchased.
type ProductRecord struct {
	ProductID   string
	Title       string
	Description string
	PriceCents  int64
	Currency    string
	Purchasable bool
	UpdatedAt   time.Time
}

// Store is the narrow contract through which the reconciliation engine
// reads and writes the local cache. The cache itself is an external
// collaborator; this interface is everything the engine may assume
// about it.
type Store interface {
	// GetEntitlement retrieves the current record for a kind, or nil if
	// none exists yet.
	GetEntitlement(ctx context.Context, kind Kind) (*Entitlement, error)

	// UpsertEntitlement creates or replaces the record for e.Kind.
	UpsertEntitlement(ctx context.Context, e *Entitlement) error

	// GetCachedPurchases returns every purchase row currently cached.
	GetCachedPurchases(ctx context.Context) ([]*purchase.Purchase, error)

	// InsertPurchases appends purchase rows. Rows whose token is already
	// present are left untouched.
	InsertPurchases(ctx context.Context, purchases []*purchase.Purchase) error

	// DeletePurchase removes a fully processed purchase row by token.
	DeletePurchase(ctx context.Context, purchaseToken string) error

	// SetProductPurchasable flips a product's purchasability flag.
	SetProductPurchasable(ctx context.Context, productID string, purchasable bool) error

	// UpsertProductRecord creates or refreshes a cached product record.
	UpsertProductRecord(ctx context.Context, rec *ProductRecord) error

	// ListProductRecords returns all cached product records.
	ListProductRecords(ctx context.Context) ([]*ProductRecord, error)
}
