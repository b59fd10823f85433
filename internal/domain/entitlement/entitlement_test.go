package entitlement_test

import (
	"testing"

	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBalance(t *testing.T) {
	e, err := entitlement.NewBalance(entitlement.KindFuel, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Value)
	assert.True(t, e.Active)

	zero, err := entitlement.NewBalance(entitlement.KindFuel, 0)
	require.NoError(t, err)
	assert.False(t, zero.Active)

	_, err = entitlement.NewBalance(entitlement.KindFuel, -1)
	assert.Error(t, err)
}

func TestMerge_AdditiveBalance(t *testing.T) {
	existing, _ := entitlement.NewBalance(entitlement.KindFuel, 2)
	incoming, _ := entitlement.NewBalance(entitlement.KindFuel, 1)

	merged := existing.Merge(incoming)
	assert.Equal(t, 3, merged.Value)
	assert.True(t, merged.Active)
}

func TestMerge_NilExisting(t *testing.T) {
	var existing *entitlement.Entitlement
	incoming, _ := entitlement.NewBalance(entitlement.KindFuel, 1)

	merged := existing.Merge(incoming)
	assert.Equal(t, 1, merged.Value)
}

func TestMerge_MonotonicStatus(t *testing.T) {
	existing := entitlement.NewStatus(entitlement.KindPremium, true)
	incoming := entitlement.NewStatus(entitlement.KindPremium, false)

	// Once owned, a merge can never revert ownership.
	merged := existing.Merge(incoming)
	assert.True(t, merged.Active)
}

func TestOwned(t *testing.T) {
	var nilEnt *entitlement.Entitlement
	assert.False(t, nilEnt.Owned())

	balance, _ := entitlement.NewBalance(entitlement.KindFuel, 1)
	assert.True(t, balance.Owned())

	inactive := entitlement.NewStatus(entitlement.KindGoldStatus, false)
	assert.False(t, inactive.Owned())
}
