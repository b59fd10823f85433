package controller

import (
	"context"
	"net/http"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	domainErrors "github.com/billingkit/entitlements/internal/domain/errors"
	"github.com/go-chi/chi/v5"
)

// ReconcileTrigger starts a reconciliation pass. The implementation
// decides whether it runs inline or waits for the billing connection.
type ReconcileTrigger interface {
	TriggerReconcile(ctx context.Context)
}

// EntitlementController serves the read-side of the entitlement cache
// plus the manual reconcile trigger.
type EntitlementController struct {
	store   entitlement.Store
	catalog catalog.Catalog
	trigger ReconcileTrigger
}

func NewEntitlementController(store entitlement.Store, cat catalog.Catalog, trigger ReconcileTrigger) *EntitlementController {
	return &EntitlementController{store: store, catalog: cat, trigger: trigger}
}

// List returns every known entitlement kind with its current state.
// Kinds with no record yet are reported as not owned.
func (c *EntitlementController) List(w http.ResponseWriter, r *http.Request) {
	kinds := []entitlement.Kind{entitlement.KindFuel, entitlement.KindPremium, entitlement.KindGoldStatus}

	out := make([]*EntitlementResponse, 0, len(kinds))
	for _, kind := range kinds {
		e, err := c.store.GetEntitlement(r.Context(), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		if e == nil {
			out = append(out, &EntitlementResponse{Kind: string(kind)})
			continue
		}
		out = append(out, FromEntitlement(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns a single entitlement by kind.
func (c *EntitlementController) Get(w http.ResponseWriter, r *http.Request) {
	kind := entitlement.Kind(chi.URLParam(r, "kind"))

	e, err := c.store.GetEntitlement(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if e == nil {
		writeError(w, domainErrors.ErrEntitlementNotFound)
		return
	}
	writeJSON(w, http.StatusOK, FromEntitlement(e))
}

// ListProducts returns the cached product records.
func (c *EntitlementController) ListProducts(w http.ResponseWriter, r *http.Request) {
	records, err := c.store.ListProductRecords(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*ProductResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, FromProductRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// Reconcile triggers a reconciliation pass. The pass runs asynchronously
// once the billing connection is usable, so the response is an accept,
// not a result.
func (c *EntitlementController) Reconcile(w http.ResponseWriter, r *http.Request) {
	c.trigger.TriggerReconcile(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, ReconcileResponse{Status: "reconcile scheduled"})
}
