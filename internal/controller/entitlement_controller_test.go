package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	calls atomic.Int32
}

func (f *fakeTrigger) TriggerReconcile(ctx context.Context) {
	f.calls.Add(1)
}

func newTestRouter(store *testutil.MockEntitlementStore, trigger *fakeTrigger) *chi.Mux {
	h := NewEntitlementController(store, catalog.Default(), trigger)
	r := chi.NewRouter()
	r.Get("/api/v1/entitlements", h.List)
	r.Get("/api/v1/entitlements/{kind}", h.Get)
	r.Get("/api/v1/products", h.ListProducts)
	r.Post("/api/v1/reconcile", h.Reconcile)
	return r
}

func TestEntitlementController_List(t *testing.T) {
	store := testutil.NewMockEntitlementStore()
	fuel, err := entitlement.NewBalance(entitlement.KindFuel, 2)
	require.NoError(t, err)
	store.SetEntitlement(fuel)

	router := newTestRouter(store, &fakeTrigger{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/entitlements", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp []EntitlementResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 3)

	byKind := make(map[string]EntitlementResponse, len(resp))
	for _, e := range resp {
		byKind[e.Kind] = e
	}
	assert.Equal(t, 2, byKind["fuel"].Value)
	assert.True(t, byKind["fuel"].Owned)
	assert.False(t, byKind["premium_upgrade"].Owned)
	assert.False(t, byKind["gold_status"].Owned)
}

func TestEntitlementController_Get(t *testing.T) {
	store := testutil.NewMockEntitlementStore()
	store.SetEntitlement(entitlement.NewStatus(entitlement.KindGoldStatus, true))

	router := newTestRouter(store, &fakeTrigger{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/entitlements/gold_status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp EntitlementResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gold_status", resp.Kind)
	assert.True(t, resp.Active)
}

func TestEntitlementController_GetNotFound(t *testing.T) {
	router := newTestRouter(testutil.NewMockEntitlementStore(), &fakeTrigger{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/entitlements/fuel", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Code)
}

func TestEntitlementController_ListProducts(t *testing.T) {
	store := testutil.NewMockEntitlementStore()
	require.NoError(t, store.UpsertProductRecord(context.Background(), &entitlement.ProductRecord{
		ProductID:   "fuel",
		Title:       "Fuel",
		PriceCents:  99,
		Currency:    "USD",
		Purchasable: true,
		UpdatedAt:   time.Now(),
	}))

	router := newTestRouter(store, &fakeTrigger{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/products", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp []ProductResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "fuel", resp[0].ProductID)
	assert.True(t, resp[0].Purchasable)
}

func TestEntitlementController_ReconcileAccepted(t *testing.T) {
	trigger := &fakeTrigger{}
	router := newTestRouter(testutil.NewMockEntitlementStore(), trigger)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/reconcile", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int32(1), trigger.calls.Load())
}
