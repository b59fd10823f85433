package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/billingkit/entitlements/internal/infrastructure/observability"
	"github.com/billingkit/entitlements/internal/providers"
	"github.com/rs/zerolog"
)

// Deps carries the engine's collaborators.
type Deps struct {
	Billing  providers.BillingClient
	Server   providers.VerificationServer
	Store    entitlement.Store
	Gate     ThrottleGate
	Verifier SignatureVerifier
	Catalog  catalog.Catalog
	Locker   KeyLocker
	Tx       TxRunner
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Engine reconciles purchase state across the billing service, the local
// cache and the verification server. Every entry point is idempotent on
// overlapping input: the partition against cached tokens is the sole
// deduplication boundary, so concurrent runs over the same snapshot are
// safe.
type Engine struct {
	billing  providers.BillingClient
	server   providers.VerificationServer
	store    entitlement.Store
	gate     ThrottleGate
	verifier SignatureVerifier
	catalog  catalog.Catalog
	locker   KeyLocker
	tx       TxRunner
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewEngine builds an Engine. A nil Locker falls back to the in-process
// keyed mutex; a nil Tx runs store writes without a transaction.
func NewEngine(deps Deps) *Engine {
	if deps.Locker == nil {
		deps.Locker = NewLocalKeyLocker()
	}
	if deps.Tx == nil {
		deps.Tx = nopTxRunner{}
	}
	return &Engine{
		billing:  deps.Billing,
		server:   deps.Server,
		store:    deps.Store,
		gate:     deps.Gate,
		verifier: deps.Verifier,
		catalog:  deps.Catalog,
		locker:   deps.Locker,
		tx:       deps.Tx,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Reconcile fetches the full purchase snapshot from the billing service
// and runs it through the reconciliation pipeline. Triggered after
// connection setup, by purchase-update pushes, by the periodic tick and
// by the manual API trigger.
func (e *Engine) Reconcile(ctx context.Context) error {
	start := time.Now()
	snapshot, err := e.querySnapshot(ctx)
	if err != nil {
		e.observeRun("error", start)
		return fmt.Errorf("query purchase snapshot: %w", err)
	}

	outcome, err := e.process(ctx, snapshot)
	e.observeRun(outcome, start)
	return err
}

// HandlePurchasesUpdated feeds an asynchronous purchases-updated push
// through the same pipeline as a full reconcile.
func (e *Engine) HandlePurchasesUpdated(ctx context.Context, purchases []*purchase.Purchase) error {
	start := time.Now()
	outcome, err := e.process(ctx, purchases)
	e.observeRun(outcome, start)
	return err
}

// querySnapshot collects all one-time purchases, plus subscription
// purchases when the billing service supports them. Missing subscription
// support prunes that branch; it is not an error.
func (e *Engine) querySnapshot(ctx context.Context) ([]*purchase.Purchase, error) {
	snapshot, err := e.billing.QueryPurchases(ctx, catalog.CategoryOneTime)
	if err != nil {
		return nil, err
	}

	if e.billing.IsFeatureSupported(providers.FeatureSubscriptions) {
		subs, err := e.billing.QueryPurchases(ctx, catalog.CategorySubscription)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, subs...)
	} else {
		e.logger.Debug().Msg("subscriptions not supported, skipping that category")
	}
	return snapshot, nil
}

// process partitions a snapshot against the cache and drives the
// pipeline: notify server, mutate entitlements, persist purchases,
// consumable handling. Steps run strictly in that order; later steps
// depend on the cache writes of earlier ones.
func (e *Engine) process(ctx context.Context, snapshot []*purchase.Purchase) (string, error) {
	cached, err := e.store.GetCachedPurchases(ctx)
	if err != nil {
		return "error", fmt.Errorf("read cached purchases: %w", err)
	}
	cachedByToken := purchase.TokenSet(cached)

	newBatch := e.partition(snapshot, cachedByToken)

	if len(newBatch) > 0 {
		if err := e.ingestNewBatch(ctx, newBatch); err != nil {
			return "error", err
		}
		e.requestConsumption(ctx, unionByToken(snapshot, cached))
		return "new_purchases", nil
	}

	now := time.Now()
	if e.gate.IsStale(ctx, now) {
		e.requestConsumption(ctx, unionByToken(snapshot, cached))
		e.pullServerPurchases(ctx, cachedByToken)
		if err := e.gate.Refresh(ctx, now); err != nil {
			e.logger.Warn().Err(err).Msg("failed to refresh throttle mark")
		}
		return "server_refresh", nil
	}

	// Steady state: nothing new, gate fresh. No further disk or network
	// work is permitted on this path.
	if e.metrics != nil {
		e.metrics.ThrottleSkips.Inc()
	}
	return "noop", nil
}

// partition returns the purchases that are genuinely new: signature
// valid, token not cached, deduplicated within the batch by token.
func (e *Engine) partition(snapshot []*purchase.Purchase, cachedByToken map[string]*purchase.Purchase) []*purchase.Purchase {
	seen := make(map[string]struct{}, len(snapshot))
	newBatch := make([]*purchase.Purchase, 0, len(snapshot))

	for _, p := range snapshot {
		if !e.verifier.Verify(p.OriginalPayload, p.Signature) {
			if e.metrics != nil {
				e.metrics.VerificationDropped.Inc()
			}
			e.logger.Warn().Str("product", p.ProductID).Msg("dropping purchase with invalid signature")
			if p.State == purchase.StateObserved {
				_ = p.MarkDiscarded()
			}
			continue
		}
		if _, ok := cachedByToken[p.PurchaseToken]; ok {
			continue
		}
		if _, ok := seen[p.PurchaseToken]; ok {
			continue
		}
		seen[p.PurchaseToken] = struct{}{}
		newBatch = append(newBatch, p)
	}
	return newBatch
}

// ingestNewBatch runs steps 3a–3c of the pipeline over a verified,
// deduplicated batch.
func (e *Engine) ingestNewBatch(ctx context.Context, newBatch []*purchase.Purchase) error {
	// 3a. Tell the verification server first. A failure here is logged
	// and deferred: the next stale-gate server query backfills.
	if err := e.server.NotifyNewPurchases(ctx, newBatch); err != nil {
		e.logger.Warn().Err(err).Int("batch", len(newBatch)).Msg("failed to notify verification server of new purchases")
		e.observeServerCall("notify", "error")
	} else {
		e.observeServerCall("notify", "ok")
	}

	// 3b. Entitlement mutation.
	if err := e.applyEntitlements(ctx, newBatch); err != nil {
		return err
	}

	// 3c. Persist the batch. Append-only; existing tokens are untouched.
	for _, p := range newBatch {
		if p.State == purchase.StateObserved {
			_ = p.MarkCached()
		}
	}
	if err := e.store.InsertPurchases(ctx, newBatch); err != nil {
		return fmt.Errorf("persist new purchases: %w", err)
	}

	if e.metrics != nil {
		for _, p := range newBatch {
			e.metrics.NewPurchases.WithLabelValues(p.ProductID).Inc()
		}
	}
	return nil
}

// applyEntitlements dispatches each new purchase on product identity.
// Unknown products are ignored, not errored. When one batch carries
// several members of the mutually exclusive family, the latest purchase
// time wins the active status; the family's purchasability is disabled
// either way.
func (e *Engine) applyEntitlements(ctx context.Context, newBatch []*purchase.Purchase) error {
	exclusiveWinner := pickExclusiveWinner(newBatch, e.catalog)

	for _, p := range newBatch {
		switch {
		case e.catalog.InExclusiveGroup(p.ProductID):
			if err := e.applyExclusiveMember(ctx, p, p == exclusiveWinner); err != nil {
				return err
			}

		case e.catalog.IsConsumable(p.ProductID):
			// Balance is applied on consume acknowledgement, not here.

		case e.catalog.IsOneTime(p.ProductID):
			if err := e.applyPermanentUnlock(ctx, p); err != nil {
				return err
			}

		default:
			if e.metrics != nil {
				e.metrics.UnknownProducts.Inc()
			}
			e.logger.Info().Str("product", p.ProductID).Msg("ignoring purchase for product not in catalog")
		}
	}
	return nil
}

func (e *Engine) applyPermanentUnlock(ctx context.Context, p *purchase.Purchase) error {
	ent := entitlement.NewStatus(entitlement.Kind(p.ProductID), true)
	if err := e.store.UpsertEntitlement(ctx, ent); err != nil {
		return fmt.Errorf("upsert %s entitlement: %w", p.ProductID, err)
	}
	if err := e.store.SetProductPurchasable(ctx, p.ProductID, false); err != nil {
		return fmt.Errorf("disable purchasability of %s: %w", p.ProductID, err)
	}
	return nil
}

func (e *Engine) applyExclusiveMember(ctx context.Context, p *purchase.Purchase, winner bool) error {
	if winner {
		ent := entitlement.NewStatus(entitlement.KindGoldStatus, true)
		if err := e.store.UpsertEntitlement(ctx, ent); err != nil {
			return fmt.Errorf("upsert gold status entitlement: %w", err)
		}
	}
	// Owning any member disables the whole family.
	if err := e.store.SetProductPurchasable(ctx, p.ProductID, false); err != nil {
		return fmt.Errorf("disable purchasability of %s: %w", p.ProductID, err)
	}
	for _, sibling := range e.catalog.ExclusiveSiblings(p.ProductID) {
		if err := e.store.SetProductPurchasable(ctx, sibling, false); err != nil {
			return fmt.Errorf("disable purchasability of %s: %w", sibling, err)
		}
	}
	return nil
}

// pullServerPurchases imports purchases the device is missing from the
// verification server. Imported records pass the same signature and
// token gates as billing snapshots; the server is trusted no further
// than the billing service.
func (e *Engine) pullServerPurchases(ctx context.Context, cachedByToken map[string]*purchase.Purchase) {
	serverPurchases, err := e.server.QueryServerPurchases(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("verification server query failed, deferring to next trigger")
		e.observeServerCall("query", "error")
		return
	}
	e.observeServerCall("query", "ok")

	missing := e.partition(serverPurchases, cachedByToken)
	if len(missing) == 0 {
		return
	}

	e.logger.Info().Int("count", len(missing)).Msg("importing purchases recorded server-side but missing locally")
	if err := e.applyEntitlements(ctx, missing); err != nil {
		e.logger.Warn().Err(err).Msg("failed to apply entitlements for server purchases")
		return
	}
	for _, p := range missing {
		if p.State == purchase.StateObserved {
			_ = p.MarkCached()
		}
	}
	if err := e.store.InsertPurchases(ctx, missing); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist server purchases")
	}
}

func (e *Engine) observeRun(outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ReconcileRuns.WithLabelValues(outcome).Inc()
	e.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
}

func (e *Engine) observeServerCall(operation, status string) {
	if e.metrics != nil {
		e.metrics.ServerQueries.WithLabelValues(operation, status).Inc()
	}
}

// pickExclusiveWinner resolves simultaneous purchases of mutually
// exclusive siblings: the latest purchase time wins, token as a stable
// tie-break. Returns nil when the batch has no family member.
func pickExclusiveWinner(batch []*purchase.Purchase, c catalog.Catalog) *purchase.Purchase {
	var members []*purchase.Purchase
	for _, p := range batch {
		if c.InExclusiveGroup(p.ProductID) {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return nil
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].PurchaseTime.Equal(members[j].PurchaseTime) {
			return members[i].PurchaseTime.After(members[j].PurchaseTime)
		}
		return members[i].PurchaseToken < members[j].PurchaseToken
	})
	return members[0]
}

// unionByToken merges two purchase lists, keeping the first occurrence
// of each token.
func unionByToken(a, b []*purchase.Purchase) []*purchase.Purchase {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]*purchase.Purchase, 0, len(a)+len(b))
	for _, list := range [][]*purchase.Purchase{a, b} {
		for _, p := range list {
			if _, ok := seen[p.PurchaseToken]; ok {
				continue
			}
			seen[p.PurchaseToken] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
