package providers

import (
	"context"

	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// VerificationServer is the opaque client for the remote server that
// durably records purchases and pays out. Wire format is out of scope.
type VerificationServer interface {
	// NotifyNewPurchases reports a batch of newly verified purchases.
	NotifyNewPurchases(ctx context.Context, batch []*purchase.Purchase) error

	// QueryServerPurchases pulls any server-side purchase state the
	// device might be missing.
	QueryServerPurchases(ctx context.Context) ([]*purchase.Purchase, error)
}
