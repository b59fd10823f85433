package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/billingkit/entitlements/internal/domain/errors"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/billingkit/entitlements/internal/infrastructure/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServerClient(t *testing.T, baseURL string) *HTTPVerificationServer {
	t.Helper()
	return NewHTTPVerificationServer(&config.VerificationConfig{
		BaseURL:                 baseURL,
		RequestTimeout:          2 * time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		CircuitBreakerThreshold: 100,
		CircuitBreakerTimeout:   time.Second,
	}, zerolog.Nop())
}

func TestNotifyNewPurchases_PostsBatch(t *testing.T) {
	var received []wirePurchase
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/purchases", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := newServerClient(t, ts.URL)
	batch := []*purchase.Purchase{
		{ProductID: "fuel", PurchaseToken: "tok-1", Quantity: 1, PurchaseTime: time.UnixMilli(1700000000000)},
	}

	require.NoError(t, client.NotifyNewPurchases(context.Background(), batch))
	require.Len(t, received, 1)
	assert.Equal(t, "tok-1", received[0].PurchaseToken)
	assert.Equal(t, int64(1700000000000), received[0].PurchaseTime)
}

func TestQueryServerPurchases_DecodesSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode([]wirePurchase{
			{ProductID: "premium_upgrade", PurchaseToken: "tok-2", Quantity: 1, PurchaseTime: 1700000000000},
		})
	}))
	defer ts.Close()

	client := newServerClient(t, ts.URL)
	purchases, err := client.QueryServerPurchases(context.Background())
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "tok-2", purchases[0].PurchaseToken)
	assert.Equal(t, purchase.StateObserved, purchases[0].State)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := newServerClient(t, ts.URL)
	_, err := client.QueryServerPurchases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_ClientErrorIsRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	client := newServerClient(t, ts.URL)
	_, err := client.QueryServerPurchases(context.Background())
	assert.ErrorIs(t, err, domainErrors.ErrServerRejected)
}
