package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	domainErrors "github.com/billingkit/entitlements/internal/domain/errors"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/billingkit/entitlements/internal/infrastructure/config"
	"github.com/billingkit/entitlements/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// HTTPVerificationServer talks to the verification server over HTTP with
// bounded retries and a circuit breaker. Failures here never corrupt the
// cache; a failed call defers reconciliation to the next trigger.
type HTTPVerificationServer struct {
	baseURL  string
	client   *http.Client
	retryCfg retry.Config
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   zerolog.Logger
}

type wirePurchase struct {
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
	Payload       string `json:"payload"`
	Signature     string `json:"signature"`
	Quantity      int    `json:"quantity"`
	PurchaseTime  int64  `json:"purchaseTime"`
}

func NewHTTPVerificationServer(cfg *config.VerificationConfig, logger zerolog.Logger) *HTTPVerificationServer {
	threshold := cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 10
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "verification-server",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= uint32(threshold) && failureRatio >= 0.6
		},
	})

	return &HTTPVerificationServer{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		retryCfg: retry.Config{
			MaxAttempts:  uint(max(cfg.MaxRetries, 1)),
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		breaker: breaker,
		logger:  logger,
	}
}

func (s *HTTPVerificationServer) NotifyNewPurchases(ctx context.Context, batch []*purchase.Purchase) error {
	body, err := json.Marshal(toWire(batch))
	if err != nil {
		return fmt.Errorf("marshal purchase batch: %w", err)
	}

	_, err = s.do(ctx, http.MethodPost, "/v1/purchases", body)
	if err != nil {
		return fmt.Errorf("notify new purchases: %w", err)
	}
	return nil
}

func (s *HTTPVerificationServer) QueryServerPurchases(ctx context.Context) ([]*purchase.Purchase, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/purchases", nil)
	if err != nil {
		return nil, fmt.Errorf("query server purchases: %w", err)
	}

	var wire []wirePurchase
	if err := json.Unmarshal(resp, &wire); err != nil {
		return nil, fmt.Errorf("decode server purchases: %w", err)
	}
	return fromWire(wire), nil
}

func (s *HTTPVerificationServer) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return s.breaker.Execute(func() ([]byte, error) {
		return retry.DoWithResult(ctx, s.retryCfg, func() ([]byte, error) {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
			if err != nil {
				return nil, err
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := s.client.Do(req)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("verification server request failed")
				return nil, fmt.Errorf("%w: %v", domainErrors.ErrServerUnavailable, err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: status %d", domainErrors.ErrServerUnavailable, resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("%w: status %d", domainErrors.ErrServerRejected, resp.StatusCode)
			}
			return data, nil
		})
	})
}

func toWire(purchases []*purchase.Purchase) []wirePurchase {
	wire := make([]wirePurchase, 0, len(purchases))
	for _, p := range purchases {
		wire = append(wire, wirePurchase{
			ProductID:     p.ProductID,
			PurchaseToken: p.PurchaseToken,
			Payload:       p.OriginalPayload,
			Signature:     p.Signature,
			Quantity:      p.Quantity,
			PurchaseTime:  p.PurchaseTime.UnixMilli(),
		})
	}
	return wire
}

func fromWire(wire []wirePurchase) []*purchase.Purchase {
	purchases := make([]*purchase.Purchase, 0, len(wire))
	for _, w := range wire {
		purchases = append(purchases, &purchase.Purchase{
			ProductID:       w.ProductID,
			PurchaseToken:   w.PurchaseToken,
			OriginalPayload: w.Payload,
			Signature:       w.Signature,
			Quantity:        w.Quantity,
			PurchaseTime:    time.UnixMilli(w.PurchaseTime),
			State:           purchase.StateObserved,
		})
	}
	return purchases
}
