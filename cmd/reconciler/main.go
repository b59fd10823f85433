package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billingkit/entitlements/internal/application/connection"
	"github.com/billingkit/entitlements/internal/application/reconcile"
	"github.com/billingkit/entitlements/internal/bootstrap"
	"github.com/billingkit/entitlements/internal/controller"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	infraRedis "github.com/billingkit/entitlements/internal/infrastructure/redis"
	"github.com/billingkit/entitlements/internal/infrastructure/security"
	"github.com/billingkit/entitlements/internal/providers"
	"github.com/billingkit/entitlements/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

// supervisedTrigger routes reconcile requests through the connection
// supervisor so they wait for a usable billing connection.
type supervisedTrigger struct {
	sup    *connection.Supervisor
	engine *reconcile.Engine
}

func (t *supervisedTrigger) TriggerReconcile(ctx context.Context) {
	t.sup.EnsureConnectedThen(ctx, func(ctx context.Context) {
		_ = t.engine.Reconcile(ctx)
	})
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "entitlements-reconciler", "entitlements")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	cfg := app.Config

	// --- Persistence ---
	store := postgres.NewStore(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	gate := infraRedis.NewThrottleGate(app.Redis, cfg.Verification.ThrottleDeadBand, app.Logger)
	locker := infraRedis.NewMergeLocker(app.Redis, 30*time.Second)

	// --- External collaborators ---
	verifier, err := security.NewVerifier(cfg.Signing.PublicKey, security.Hash(cfg.Signing.Hash), app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build signature verifier")
	}
	server := providers.NewHTTPVerificationServer(&cfg.Verification, app.Logger)

	// The billing simulator stands in for the vendor RPC client; the
	// engine only sees the BillingClient contract.
	billing := providers.NewMockBillingClient(providers.WithLatency(20 * time.Millisecond))

	sup := connection.NewSupervisor(
		billing,
		cfg.Billing.MaxConnectionRetries,
		cfg.Billing.BaseRetryDelay,
		cfg.Billing.ConnectionGraceDelay,
		app.Metrics,
		app.Logger,
	)

	engine := reconcile.NewEngine(reconcile.Deps{
		Billing:  billing,
		Server:   server,
		Store:    store,
		Gate:     gate,
		Verifier: verifier,
		Catalog:  cfg.Catalog.ToCatalog(),
		Locker:   locker,
		Tx:       txManager,
		Metrics:  app.Metrics,
		Logger:   app.Logger,
	})

	trigger := &supervisedTrigger{sup: sup, engine: engine}

	// --- Billing event wiring ---
	billing.SetEvents(providers.Events{
		OnConnected: func() {
			sup.HandleConnected()
			go func() {
				if err := engine.RefreshProductDetails(ctx); err != nil {
					app.Logger.Warn().Err(err).Msg("Product details refresh failed")
				}
				if err := engine.Reconcile(ctx); err != nil {
					app.Logger.Error().Err(err).Msg("Post-connect reconcile failed")
				}
			}()
		},
		OnDisconnected: sup.HandleDisconnected,
		OnPurchasesUpdated: func(purchases []*purchase.Purchase) {
			sup.EnsureConnectedThen(ctx, func(ctx context.Context) {
				if err := engine.HandlePurchasesUpdated(ctx, purchases); err != nil {
					app.Logger.Error().Err(err).Msg("Purchase update handling failed")
				}
			})
		},
		OnConsumeAck: func(purchaseToken string, ackErr error) {
			if err := engine.HandleConsumeAck(ctx, purchaseToken, ackErr); err != nil {
				app.Logger.Error().Err(err).Msg("Consume ack handling failed")
			}
		},
		OnProductDetails: func(details []*providers.ProductDetail) {
			if err := engine.HandleProductDetails(ctx, details); err != nil {
				app.Logger.Warn().Err(err).Msg("Product details caching failed")
			}
		},
	})
	billing.StartConnection()

	// --- HTTP server ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		Store:           store,
		Catalog:         cfg.Catalog.ToCatalog(),
		Trigger:         trigger,
		Metrics:         app.Metrics,
		CORSConfig:      cfg.Server.CORS,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
	})
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. HTTP API and metrics.
	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 2. Periodic reconcile loop.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Billing.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				trigger.TriggerReconcile(gCtx)
			}
		}
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down reconciler...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Reconciler error")
	}

	sup.Shutdown()
	billing.EndConnection()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Reconciler exited")
}
