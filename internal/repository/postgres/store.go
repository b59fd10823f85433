package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/domain/purchase"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements entitlement.Store on PostgreSQL. Purchase rows key on
// the purchase token; inserting an existing token is a no-op, which is
// what makes overlapping reconcile runs safe at the persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) db(ctx context.Context) Querier {
	return querierFrom(ctx, s.pool)
}

// --- entitlements ---

func (s *Store) GetEntitlement(ctx context.Context, kind entitlement.Kind) (*entitlement.Entitlement, error) {
	e := &entitlement.Entitlement{}
	var kindStr string
	err := s.db(ctx).QueryRow(ctx,
		`SELECT kind, value, active, updated_at FROM entitlements WHERE kind = $1`,
		string(kind),
	).Scan(&kindStr, &e.Value, &e.Active, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select entitlement %s: %w", kind, err)
	}
	e.Kind = entitlement.Kind(kindStr)
	return e, nil
}

func (s *Store) UpsertEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO entitlements (kind, value, active, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind) DO UPDATE
		 SET value = EXCLUDED.value, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		string(e.Kind), e.Value, e.Active, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert entitlement %s: %w", e.Kind, err)
	}
	return nil
}

// --- purchases ---

func (s *Store) GetCachedPurchases(ctx context.Context) ([]*purchase.Purchase, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT purchase_token, product_id, payload, signature, quantity, purchase_time, acknowledged, state
		 FROM purchases ORDER BY purchase_time ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*purchase.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (s *Store) InsertPurchases(ctx context.Context, purchases []*purchase.Purchase) error {
	for _, p := range purchases {
		_, err := s.db(ctx).Exec(ctx,
			`INSERT INTO purchases
			 (purchase_token, product_id, payload, signature, quantity, purchase_time, acknowledged, state, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			 ON CONFLICT (purchase_token) DO NOTHING`,
			p.PurchaseToken, p.ProductID, p.OriginalPayload, p.Signature,
			p.Quantity, p.PurchaseTime, p.Acknowledged, string(p.State),
		)
		if err != nil {
			return fmt.Errorf("insert purchase %s: %w", p.ProductID, err)
		}
	}
	return nil
}

func (s *Store) DeletePurchase(ctx context.Context, purchaseToken string) error {
	_, err := s.db(ctx).Exec(ctx,
		`DELETE FROM purchases WHERE purchase_token = $1`, purchaseToken,
	)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	return nil
}

// --- products ---

func (s *Store) SetProductPurchasable(ctx context.Context, productID string, purchasable bool) error {
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO products (product_id, purchasable, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (product_id) DO UPDATE
		 SET purchasable = EXCLUDED.purchasable, updated_at = EXCLUDED.updated_at`,
		productID, purchasable,
	)
	if err != nil {
		return fmt.Errorf("set purchasability of %s: %w", productID, err)
	}
	return nil
}

// UpsertProductRecord refreshes display fields. Purchasability is owned
// by the entitlement pipeline, so an existing row keeps its flag.
func (s *Store) UpsertProductRecord(ctx context.Context, rec *entitlement.ProductRecord) error {
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO products (product_id, title, description, price_cents, currency, purchasable, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (product_id) DO UPDATE
		 SET title = EXCLUDED.title, description = EXCLUDED.description,
		     price_cents = EXCLUDED.price_cents, currency = EXCLUDED.currency,
		     updated_at = EXCLUDED.updated_at`,
		rec.ProductID, rec.Title, rec.Description, rec.PriceCents, rec.Currency, rec.Purchasable,
	)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", rec.ProductID, err)
	}
	return nil
}

func (s *Store) ListProductRecords(ctx context.Context) ([]*entitlement.ProductRecord, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT product_id, title, description, price_cents, currency, purchasable, updated_at
		 FROM products ORDER BY product_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var records []*entitlement.ProductRecord
	for rows.Next() {
		rec := &entitlement.ProductRecord{}
		var updatedAt time.Time
		if err := rows.Scan(&rec.ProductID, &rec.Title, &rec.Description,
			&rec.PriceCents, &rec.Currency, &rec.Purchasable, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		rec.UpdatedAt = updatedAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- scanning helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPurchase(s scanner) (*purchase.Purchase, error) {
	p := &purchase.Purchase{}
	var state string
	err := s.Scan(&p.PurchaseToken, &p.ProductID, &p.OriginalPayload, &p.Signature,
		&p.Quantity, &p.PurchaseTime, &p.Acknowledged, &state)
	if err != nil {
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	p.State = purchase.State(state)
	return p, nil
}
