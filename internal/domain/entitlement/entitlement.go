package entitlement

import (
	"time"

	"github.com/billingkit/entitlements/internal/domain/errors"
)

// Kind identifies one locally cached entitlement.
type Kind string

const (
	// KindFuel is a consumable balance: purchases accumulate into it.
	KindFuel Kind = "fuel"
	// KindPremium is a permanent unlock; once owned it never reverts
	// through this engine.
	KindPremium Kind = "premium_upgrade"
	// KindGoldStatus is derived from the mutually exclusive subscription
	// family; owning any member makes it active.
	KindGoldStatus Kind = "gold_status"
)

// Entitlement is the durable local representation of something the user
// owns. Value carries the balance for consumable kinds; Active carries
// ownership for boolean kinds.
type Entitlement struct {
	Kind      Kind
	Value     int
	Active    bool
	UpdatedAt time.Time
}

// NewBalance builds a consumable-balance entitlement.
func NewBalance(kind Kind, level int) (*Entitlement, error) {
	if level < 0 {
		return nil, errors.NewValidationError("level", "cannot be negative")
	}
	return &Entitlement{Kind: kind, Value: level, Active: level > 0, UpdatedAt: time.Now()}, nil
}

// NewStatus builds a boolean entitlement.
func NewStatus(kind Kind, active bool) *Entitlement {
	return &Entitlement{Kind: kind, Active: active, UpdatedAt: time.Now()}
}

// Merge returns the entitlement that results from applying a newly
// acknowledged purchase on top of the existing record. For balances the
// merge is additive; for boolean kinds it is a monotonic OR. The receiver
// may be nil, meaning no record existed yet.
func (e *Entitlement) Merge(incoming *Entitlement) *Entitlement {
	if e == nil {
		out := *incoming
		out.UpdatedAt = time.Now()
		return &out
	}
	merged := &Entitlement{
		Kind:      e.Kind,
		Value:     e.Value + incoming.Value,
		Active:    e.Active || incoming.Active,
		UpdatedAt: time.Now(),
	}
	if merged.Value > 0 {
		merged.Active = true
	}
	return merged
}

// Owned reports whether the entitlement grants anything right now.
func (e *Entitlement) Owned() bool {
	return e != nil && (e.Active || e.Value > 0)
}
