package controller

import (
	"time"

	"github.com/billingkit/entitlements/internal/domain/entitlement"
)

// --- Response DTOs ---

// EntitlementResponse represents one entitlement in API responses.
type EntitlementResponse struct {
	Kind      string    `json:"kind"`
	Value     int       `json:"value"`
	Active    bool      `json:"active"`
	Owned     bool      `json:"owned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductResponse represents one catalog product in API responses.
type ProductResponse struct {
	ProductID   string    `json:"product_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency,omitempty"`
	Purchasable bool      `json:"purchasable"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReconcileResponse acknowledges a manual reconcile trigger.
type ReconcileResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FromEntitlement converts a domain entitlement to an API response.
func FromEntitlement(e *entitlement.Entitlement) *EntitlementResponse {
	return &EntitlementResponse{
		Kind:      string(e.Kind),
		Value:     e.Value,
		Active:    e.Active,
		Owned:     e.Owned(),
		UpdatedAt: e.UpdatedAt,
	}
}

// FromProductRecord converts a cached product record to an API response.
func FromProductRecord(rec *entitlement.ProductRecord) *ProductResponse {
	return &ProductResponse{
		ProductID:   rec.ProductID,
		Title:       rec.Title,
		Description: rec.Description,
		PriceCents:  rec.PriceCents,
		Currency:    rec.Currency,
		Purchasable: rec.Purchasable,
		UpdatedAt:   rec.UpdatedAt,
	}
}
