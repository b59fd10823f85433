package purchase

import (
	"encoding/json"
	"time"

	"github.com/billingkit/entitlements/internal/domain/errors"
	"github.com/go-playground/validator/v10"
)

// State represents a purchase's position in its reconciliation lifecycle.
type State string

const (
	// StateObserved: returned by the billing service, not yet partitioned.
	StateObserved State = "observed"
	// StateDiscarded: failed signature verification; never cached.
	StateDiscarded State = "discarded"
	// StateCached: verified and persisted; entitlement applied. Terminal
	// for non-consumables.
	StateCached State = "cached"
	// StateConsumePending: consume requested from the billing service.
	StateConsumePending State = "consume_pending"
	// StateMerged: consume acknowledged and balance merged; the cache row
	// is deleted right after.
	StateMerged State = "merged"
)

// Purchase is a snapshot of a single transaction issued by the billing
// service. It is immutable once issued; identity is the purchase token.
type Purchase struct {
	ProductID       string
	PurchaseToken   string
	OriginalPayload string
	Signature       string
	Quantity        int
	PurchaseTime    time.Time
	Acknowledged    bool
	State           State
}

// Payload is the decoded form of a purchase's signed payload.
type Payload struct {
	ProductID     string `json:"productId" validate:"required"`
	PurchaseToken string `json:"purchaseToken" validate:"required"`
	PurchaseTime  int64  `json:"purchaseTime" validate:"gte=0"`
	Quantity      int    `json:"quantity" validate:"gte=0"`
}

var validate = validator.New()

// DecodePayload parses and validates a signed purchase payload. It does
// not verify the signature; that is the verifier's job.
func DecodePayload(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.NewValidationError("payload", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(&p); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return nil, errors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return nil, errors.NewValidationError("payload", err.Error())
	}
	return &p, nil
}

// FromPayload builds a Purchase from a decoded payload plus its wire
// envelope. Quantity zero is normalized to one (older billing clients
// omit it).
func FromPayload(p *Payload, originalPayload, signature string) *Purchase {
	qty := p.Quantity
	if qty == 0 {
		qty = 1
	}
	return &Purchase{
		ProductID:       p.ProductID,
		PurchaseToken:   p.PurchaseToken,
		OriginalPayload: originalPayload,
		Signature:       signature,
		Quantity:        qty,
		PurchaseTime:    time.UnixMilli(p.PurchaseTime),
		State:           StateObserved,
	}
}

// SameTransaction reports whether two purchases represent the same
// transaction. Membership tests in the cache key on the token, not on
// full-record equality, so acknowledgement metadata drift cannot defeat
// deduplication.
func (p *Purchase) SameTransaction(other *Purchase) bool {
	return other != nil && p.PurchaseToken == other.PurchaseToken
}

// CanTransitionTo checks if the purchase can move to the given state.
func (p *Purchase) CanTransitionTo(newState State) bool {
	transitions := map[State][]State{
		StateObserved:       {StateDiscarded, StateCached},
		StateDiscarded:      {}, // terminal
		StateCached:         {StateConsumePending},
		StateConsumePending: {StateMerged},
		StateMerged:         {}, // terminal; row deleted
	}

	allowed, exists := transitions[p.State]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newState {
			return true
		}
	}
	return false
}

// TransitionTo moves the purchase to a new lifecycle state.
func (p *Purchase) TransitionTo(newState State) error {
	if !p.CanTransitionTo(newState) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.State)+" to "+string(newState),
			errors.ErrInvalidStateTransition,
		)
	}
	p.State = newState
	return nil
}

// MarkDiscarded records a failed signature verification.
func (p *Purchase) MarkDiscarded() error {
	return p.TransitionTo(StateDiscarded)
}

// MarkCached records promotion into the local cache.
func (p *Purchase) MarkCached() error {
	return p.TransitionTo(StateCached)
}

// MarkConsumePending records that consumption was requested.
func (p *Purchase) MarkConsumePending() error {
	return p.TransitionTo(StateConsumePending)
}

// MarkMerged records a consumption acknowledgement whose balance effect
// has been applied.
func (p *Purchase) MarkMerged() error {
	return p.TransitionTo(StateMerged)
}

// IsTerminal reports whether no further transitions are possible.
func (p *Purchase) IsTerminal() bool {
	return p.State == StateDiscarded || p.State == StateMerged
}

// TokenSet builds a token-keyed index over a purchase list.
func TokenSet(purchases []*Purchase) map[string]*Purchase {
	set := make(map[string]*Purchase, len(purchases))
	for _, p := range purchases {
		set[p.PurchaseToken] = p
	}
	return set
}
