package reconcile

import (
	"context"
	"fmt"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/providers"
)

// RefreshProductDetails asks the billing service for current product
// details in both categories. Responses arrive asynchronously through
// HandleProductDetails. Missing support for either category is a pruned
// branch, not an error.
func (e *Engine) RefreshProductDetails(ctx context.Context) error {
	if !e.billing.IsFeatureSupported(providers.FeatureProductDetails) {
		e.logger.Debug().Msg("product details not supported, skipping refresh")
		return nil
	}

	if err := e.billing.QueryProductDetails(ctx, catalog.CategoryOneTime, e.catalog.OneTimeProducts); err != nil {
		return fmt.Errorf("query one-time product details: %w", err)
	}
	if e.billing.IsFeatureSupported(providers.FeatureSubscriptions) {
		if err := e.billing.QueryProductDetails(ctx, catalog.CategorySubscription, e.catalog.SubscriptionProducts); err != nil {
			return fmt.Errorf("query subscription product details: %w", err)
		}
	}
	return nil
}

// HandleProductDetails caches a product details response. The store
// preserves an existing record's purchasability flag; only the engine's
// entitlement pipeline flips it.
func (e *Engine) HandleProductDetails(ctx context.Context, details []*providers.ProductDetail) error {
	for _, d := range details {
		rec := &entitlement.ProductRecord{
			ProductID:   d.ProductID,
			Title:       d.Title,
			Description: d.Description,
			PriceCents:  d.PriceCents,
			Currency:    d.Currency,
			Purchasable: true,
		}
		if err := e.store.UpsertProductRecord(ctx, rec); err != nil {
			return fmt.Errorf("cache product record %s: %w", d.ProductID, err)
		}
	}
	e.logger.Debug().Int("count", len(details)).Msg("cached product details")
	return nil
}
