package reconcile

import (
	"context"
	"fmt"

	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/domain/purchase"
)

// requestConsumption asks the billing service to consume every purchase
// of a consumable product in the given set. Fire-and-forget: the balance
// effect is applied when the consume acknowledgement arrives, not here,
// because the billing service's consume call is itself asynchronous.
// The set deliberately includes previously cached purchases: an old
// consumable purchase may not have been acknowledged yet.
func (e *Engine) requestConsumption(ctx context.Context, purchases []*purchase.Purchase) {
	for _, p := range purchases {
		if !e.catalog.IsConsumable(p.ProductID) {
			continue
		}
		if err := e.billing.Consume(ctx, p.PurchaseToken); err != nil {
			e.logger.Warn().Err(err).Str("product", p.ProductID).Msg("consume request failed, will retry on next run")
			continue
		}
		if p.State == purchase.StateCached {
			_ = p.MarkConsumePending()
		}
		if e.metrics != nil {
			e.metrics.ConsumeRequests.WithLabelValues(p.ProductID).Inc()
		}
		e.logger.Info().Str("product", p.ProductID).Msg("asked billing service to consume purchase")
	}
}

// HandleConsumeAck applies the balance effect of an acknowledged consume
// call. The read-merge-write against the entitlement is serialized per
// key; two acknowledgements for the same product cannot lose an update.
// A failed acknowledgement is logged and left for the next reconcile.
func (e *Engine) HandleConsumeAck(ctx context.Context, purchaseToken string, ackErr error) error {
	if ackErr != nil {
		e.logger.Warn().Err(ackErr).Msg("billing service rejected consume, leaving purchase cached")
		return nil
	}

	cached, err := e.store.GetCachedPurchases(ctx)
	if err != nil {
		return fmt.Errorf("read cached purchases: %w", err)
	}

	match, ok := purchase.TokenSet(cached)[purchaseToken]
	if !ok {
		// Already merged by a concurrent acknowledgement, or the token
		// was never promoted into the cache.
		e.logger.Debug().Msg("consume ack for token not in cache, ignoring")
		return nil
	}
	if !e.catalog.IsConsumable(match.ProductID) {
		return nil
	}

	kind := entitlement.Kind(match.ProductID)
	increment := e.catalog.IncrementFor(match.ProductID) * match.Quantity

	unlock, err := e.locker.Lock(ctx, string(kind))
	if err != nil {
		return fmt.Errorf("lock entitlement %s: %w", kind, err)
	}
	defer unlock()

	// Re-read under the lock: a racing ack for the same token may have
	// merged and deleted it already.
	cached, err = e.store.GetCachedPurchases(ctx)
	if err != nil {
		return fmt.Errorf("read cached purchases: %w", err)
	}
	if _, still := purchase.TokenSet(cached)[purchaseToken]; !still {
		return nil
	}

	existing, err := e.store.GetEntitlement(ctx, kind)
	if err != nil {
		return fmt.Errorf("read entitlement %s: %w", kind, err)
	}

	incoming, err := entitlement.NewBalance(kind, increment)
	if err != nil {
		return fmt.Errorf("build balance increment: %w", err)
	}
	merged := existing.Merge(incoming)

	// Merge, row deletion and purchasability move together: a crash
	// between them would either double-merge on the next ack or strand
	// the balance.
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.store.UpsertEntitlement(ctx, merged); err != nil {
			return fmt.Errorf("persist merged balance: %w", err)
		}
		if err := e.store.DeletePurchase(ctx, purchaseToken); err != nil {
			return fmt.Errorf("delete consumed purchase: %w", err)
		}

		// A full balance disables further purchases of the consumable
		// until some of it is spent.
		cap := e.catalog.CapFor(match.ProductID)
		purchasable := cap == 0 || merged.Value < cap
		if err := e.store.SetProductPurchasable(ctx, match.ProductID, purchasable); err != nil {
			return fmt.Errorf("update purchasability of %s: %w", match.ProductID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.BalanceMerges.WithLabelValues(match.ProductID).Inc()
	}
	e.logger.Info().
		Str("product", match.ProductID).
		Int("increment", increment).
		Int("balance", merged.Value).
		Msg("merged consumable balance")
	return nil
}
