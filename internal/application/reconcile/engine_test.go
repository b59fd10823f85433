package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/billingkit/entitlements/internal/providers"
	"github.com/billingkit/entitlements/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *Engine
	billing *providers.MockBillingClient
	store   *testutil.MockEntitlementStore
	server  *testutil.MockVerificationServer
	gate    *testutil.MockThrottleGate
}

func newTestEnv(t *testing.T, opts ...providers.MockBillingOption) *testEnv {
	t.Helper()

	billing := providers.NewMockBillingClient(opts...)
	billing.StartConnection()

	env := &testEnv{
		billing: billing,
		store:   testutil.NewMockEntitlementStore(),
		server:  testutil.NewMockVerificationServer(),
		gate:    testutil.NewMockThrottleGate(false),
	}
	env.engine = NewEngine(Deps{
		Billing:  env.billing,
		Server:   env.server,
		Store:    env.store,
		Gate:     env.gate,
		Verifier: &testutil.FakeVerifier{},
		Catalog:  catalog.Default(),
		Logger:   zerolog.Nop(),
	})
	return env
}

func TestReconcile_NewOneTimePurchase(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade")
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	ent := env.store.Entitlement(entitlement.KindPremium)
	require.NotNil(t, ent)
	assert.True(t, ent.Active)
	assert.True(t, env.store.HasCachedPurchase(p.PurchaseToken))
	assert.Equal(t, purchase.StateCached, p.State)
	assert.False(t, env.store.Purchasable("premium_upgrade"))

	batches := env.server.NotifiedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, p.PurchaseToken, batches[0][0].PurchaseToken)
}

func TestReconcile_InvalidSignatureNeverCached(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade", testutil.WithSignature("forged"))
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, purchase.StateDiscarded, p.State)
	assert.Nil(t, env.store.Entitlement(entitlement.KindPremium))
	assert.Zero(t, env.store.CachedPurchaseCount())
	assert.Empty(t, env.server.NotifiedBatches())
}

func TestReconcile_ExclusiveFamilyLatestWins(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()
	monthly := testutil.NewTestPurchase("gold_monthly", testutil.WithPurchaseTime(base))
	yearly := testutil.NewTestPurchase("gold_yearly", testutil.WithPurchaseTime(base.Add(time.Minute)))
	env.billing.SetPurchases(catalog.CategorySubscription, []*purchase.Purchase{monthly, yearly})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	ent := env.store.Entitlement(entitlement.KindGoldStatus)
	require.NotNil(t, ent)
	assert.True(t, ent.Active)

	// Owning either member disables the whole family.
	assert.False(t, env.store.Purchasable("gold_monthly"))
	assert.False(t, env.store.Purchasable("gold_yearly"))
	assert.True(t, env.store.HasCachedPurchase(monthly.PurchaseToken))
	assert.True(t, env.store.HasCachedPurchase(yearly.PurchaseToken))
}

func TestPickExclusiveWinner_TokenTieBreak(t *testing.T) {
	c := catalog.Default()
	at := time.Now()
	a := testutil.NewTestPurchase("gold_monthly", testutil.WithPurchaseTime(at), testutil.WithToken("aaa"))
	b := testutil.NewTestPurchase("gold_yearly", testutil.WithPurchaseTime(at), testutil.WithToken("bbb"))

	winner := pickExclusiveWinner([]*purchase.Purchase{b, a}, c)
	require.NotNil(t, winner)
	assert.Equal(t, "aaa", winner.PurchaseToken)

	// Order of the input batch must not matter.
	winner = pickExclusiveWinner([]*purchase.Purchase{a, b}, c)
	assert.Equal(t, "aaa", winner.PurchaseToken)
}

func TestReconcile_SteadyStateDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade", testutil.WithState(purchase.StateCached))
	env.store.AddCachedPurchase(p)
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	writesBefore := env.store.WriteCount()
	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, writesBefore, env.store.WriteCount(), "steady state must not write to the cache")
	assert.Zero(t, env.server.CallCount(), "steady state must not hit the network")
	assert.Zero(t, env.gate.RefreshCount())
}

func TestReconcile_StaleGateImportsServerPurchases(t *testing.T) {
	env := newTestEnv(t)
	env.gate.SetStale(true)
	remote := testutil.NewTestPurchase("premium_upgrade")
	env.server.SetServerPurchases([]*purchase.Purchase{remote})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	ent := env.store.Entitlement(entitlement.KindPremium)
	require.NotNil(t, ent)
	assert.True(t, ent.Active)
	assert.True(t, env.store.HasCachedPurchase(remote.PurchaseToken))
	assert.Equal(t, 1, env.gate.RefreshCount())
}

func TestReconcile_StaleGateDropsForgedServerPurchases(t *testing.T) {
	env := newTestEnv(t)
	env.gate.SetStale(true)
	forged := testutil.NewTestPurchase("premium_upgrade", testutil.WithSignature("forged"))
	env.server.SetServerPurchases([]*purchase.Purchase{forged})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Nil(t, env.store.Entitlement(entitlement.KindPremium))
	assert.Zero(t, env.store.CachedPurchaseCount())
	assert.Equal(t, 1, env.gate.RefreshCount())
}

func TestReconcile_ServerErrorStillRefreshesGate(t *testing.T) {
	env := newTestEnv(t)
	env.gate.SetStale(true)
	env.server.QueryErr = assert.AnError

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, env.gate.RefreshCount())
}

func TestReconcile_UnknownProductCachedWithoutEntitlement(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("mystery_box")
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.True(t, env.store.HasCachedPurchase(p.PurchaseToken))
	assert.Nil(t, env.store.Entitlement(entitlement.Kind("mystery_box")))
	assert.True(t, env.store.Purchasable("mystery_box"))
}

func TestReconcile_ConsumableDefersBalanceToAck(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("fuel")
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	// No ack was wired, so the consume is in flight: request recorded,
	// balance untouched, row still cached.
	assert.Contains(t, env.billing.ConsumedTokens(), p.PurchaseToken)
	assert.Nil(t, env.store.Entitlement(entitlement.KindFuel))
	assert.True(t, env.store.HasCachedPurchase(p.PurchaseToken))
	assert.Equal(t, purchase.StateConsumePending, p.State)
}

func TestReconcile_DuplicateTokensCollapse(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade")
	dup := *p
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p, &dup})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.CachedPurchaseCount())
	batches := env.server.NotifiedBatches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
}

func TestReconcile_RerunWithSameSnapshotIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade")
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	require.NoError(t, env.engine.Reconcile(context.Background()))
	writesAfterFirst := env.store.WriteCount()
	serverCallsAfterFirst := env.server.CallCount()

	require.NoError(t, env.engine.Reconcile(context.Background()))

	assert.Equal(t, writesAfterFirst, env.store.WriteCount())
	assert.Equal(t, serverCallsAfterFirst, env.server.CallCount())
	assert.Equal(t, 1, env.store.CachedPurchaseCount())
}

func TestReconcile_SkipsSubscriptionsWhenUnsupported(t *testing.T) {
	env := newTestEnv(t, providers.WithoutSubscriptions())
	sub := testutil.NewTestPurchase("gold_monthly")
	env.billing.SetPurchases(catalog.CategorySubscription, []*purchase.Purchase{sub})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Nil(t, env.store.Entitlement(entitlement.KindGoldStatus))
	assert.Zero(t, env.store.CachedPurchaseCount())
}

func TestReconcile_NotifyFailureDoesNotBlockEntitlements(t *testing.T) {
	env := newTestEnv(t)
	env.server.NotifyErr = assert.AnError
	p := testutil.NewTestPurchase("premium_upgrade")
	env.billing.SetPurchases(catalog.CategoryOneTime, []*purchase.Purchase{p})

	err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	require.NotNil(t, env.store.Entitlement(entitlement.KindPremium))
	assert.True(t, env.store.HasCachedPurchase(p.PurchaseToken))
}

func TestHandlePurchasesUpdated_RunsFullPipeline(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.NewTestPurchase("premium_upgrade")

	err := env.engine.HandlePurchasesUpdated(context.Background(), []*purchase.Purchase{p})
	require.NoError(t, err)

	require.NotNil(t, env.store.Entitlement(entitlement.KindPremium))
	assert.True(t, env.store.HasCachedPurchase(p.PurchaseToken))
	assert.Len(t, env.server.NotifiedBatches(), 1)
}

func TestHandleProductDetails_PreservesPurchasability(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetProductPurchasable(context.Background(), "premium_upgrade", false))

	err := env.engine.HandleProductDetails(context.Background(), []*providers.ProductDetail{
		{ProductID: "premium_upgrade", Title: "Premium upgrade", PriceCents: 499, Currency: "USD"},
		{ProductID: "fuel", Title: "Fuel", PriceCents: 99, Currency: "USD"},
	})
	require.NoError(t, err)

	records, err := env.store.ListProductRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.False(t, env.store.Purchasable("premium_upgrade"))
	assert.True(t, env.store.Purchasable("fuel"))
}

func TestRefreshProductDetails_CachesResponses(t *testing.T) {
	env := newTestEnv(t)
	env.billing.SetProductDetails(catalog.CategoryOneTime, []*providers.ProductDetail{
		{ProductID: "fuel", Title: "Fuel"},
	})
	env.billing.SetEvents(providers.Events{
		OnProductDetails: func(details []*providers.ProductDetail) {
			_ = env.engine.HandleProductDetails(context.Background(), details)
		},
	})

	err := env.engine.RefreshProductDetails(context.Background())
	require.NoError(t, err)

	records, err := env.store.ListProductRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
