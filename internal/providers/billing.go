package providers

import (
	"context"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// Feature names an optional billing service capability.
type Feature string

const (
	FeatureSubscriptions  Feature = "subscriptions"
	FeatureProductDetails Feature = "product_details"
)

// ProductDetail is the billing service's view of one catalog product.
type ProductDetail struct {
	ProductID   string
	Title       string
	Description string
	PriceCents  int64
	Currency    string
}

// Events is the callback surface the core exposes to the billing client.
// Handlers are independent closures keyed by event kind; unrelated
// handlers never share a type. Nil handlers are skipped.
type Events struct {
	// OnConnected fires once the connection is confirmed established.
	OnConnected func()
	// OnDisconnected fires when the connection is lost.
	OnDisconnected func()
	// OnPurchasesUpdated delivers an asynchronous purchase push.
	OnPurchasesUpdated func(purchases []*purchase.Purchase)
	// OnConsumeAck confirms a consume call for a token. err is non-nil
	// when the billing service rejected the consume.
	OnConsumeAck func(purchaseToken string, err error)
	// OnProductDetails delivers a product details query response.
	OnProductDetails func(details []*ProductDetail)
}

// BillingClient is the opaque RPC client for the third-party billing
// service. Its wire protocol is out of scope; the engine only sees this
// contract.
type BillingClient interface {
	// SetEvents registers the callback surface. Must be called before
	// StartConnection.
	SetEvents(ev Events)

	// StartConnection requests an asynchronous connection. Completion is
	// signalled through OnConnected / OnDisconnected.
	StartConnection()

	// IsReady reports whether the connection is currently live.
	IsReady() bool

	// EndConnection tears the connection down.
	EndConnection()

	// QueryPurchases returns the current purchase snapshot for one
	// category.
	QueryPurchases(ctx context.Context, category catalog.ProductCategory) ([]*purchase.Purchase, error)

	// IsFeatureSupported reports a capability. An unsupported feature is
	// not an error; it prunes a branch of work.
	IsFeatureSupported(feature Feature) bool

	// Consume asks the service to consume a purchase. Fire-and-forget:
	// the response arrives via OnConsumeAck.
	Consume(ctx context.Context, purchaseToken string) error

	// QueryProductDetails requests details for the given products. The
	// response arrives via OnProductDetails.
	QueryProductDetails(ctx context.Context, category catalog.ProductCategory, productIDs []string) error
}
