package reconcile

import (
	"context"
	"time"
)

// ThrottleGate bounds how often the verification server may be queried.
// This is an application-layer port; the redis-backed implementation
// lives in infrastructure.
type ThrottleGate interface {
	// IsStale reports whether the last server query is older than the
	// dead band.
	IsStale(ctx context.Context, now time.Time) bool

	// Refresh persists now as the new mark.
	Refresh(ctx context.Context, now time.Time) error
}

// SignatureVerifier validates that a purchase payload was signed by the
// expected authority. Implementations fail closed.
type SignatureVerifier interface {
	Verify(payload, signature string) bool
}

// KeyLocker serializes read-merge-write sequences per entitlement key.
// Lock blocks until the key is held and returns the release function.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// TxRunner groups a sequence of store writes into one atomic unit. The
// postgres-backed store propagates the transaction through ctx; the
// default runner just calls fn.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type nopTxRunner struct{}

func (nopTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
