package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

// CachedLookup wraps a Lookup with a Redis read-through cache. Item kind and
// condition are immutable after creation, so cached entries only need a TTL
// to pick up soft deletes and price changes.
type CachedLookup struct {
	inner Lookup
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedLookup constructs the cache decorator.
func NewCachedLookup(inner Lookup, rdb *redis.Client, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{inner: inner, rdb: rdb, ttl: ttl}
}

// ItemByID loads from cache first, falling back to the inner lookup.
func (c *CachedLookup) ItemByID(ctx context.Context, id int64) (Item, error) {
	key := fmt.Sprintf("catalog:%d:item:id:%d", shared.TenantFromContext(ctx), id)
	return c.lookup(ctx, key, func() (Item, error) { return c.inner.ItemByID(ctx, id) })
}

// ItemByCode loads from cache first, falling back to the inner lookup.
func (c *CachedLookup) ItemByCode(ctx context.Context, code string) (Item, error) {
	key := fmt.Sprintf("catalog:%d:item:code:%s", shared.TenantFromContext(ctx), code)
	return c.lookup(ctx, key, func() (Item, error) { return c.inner.ItemByCode(ctx, code) })
}

func (c *CachedLookup) lookup(ctx context.Context, key string, load func() (Item, error)) (Item, error) {
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			if item, err := decodeItem(raw); err == nil {
				return item, nil
			}
			// Corrupt entry, drop it and reload.
			_ = c.rdb.Del(ctx, key).Err()
		}
	}
	item, err := load()
	if err != nil {
		return Item{}, err
	}
	if c.rdb != nil {
		if raw, err := encodeItem(item); err == nil {
			_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
		}
	}
	return item, nil
}

// itemEnvelope flattens the KindSpec variant for JSON storage.
type itemEnvelope struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Kind             ItemKind        `json:"kind"`
	Condition        Condition       `json:"condition,omitempty"`
	RequiresExchange bool            `json:"requires_exchange,omitempty"`
	FullItemID       int64           `json:"full_item_id,omitempty"`
	EmptyItemID      int64           `json:"empty_item_id,omitempty"`
	DepositItemID    int64           `json:"deposit_item_id,omitempty"`
	Components       []Component     `json:"components,omitempty"`
	UnitWeight       decimal.Decimal `json:"unit_weight"`
	UnitVolume       decimal.Decimal `json:"unit_volume"`
	DefaultPrice     decimal.Decimal `json:"default_price"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func encodeItem(item Item) ([]byte, error) {
	env := itemEnvelope{
		ID:           item.ID,
		ProductID:    item.ProductID,
		Code:         item.Code,
		Name:         item.Name,
		Kind:         item.Kind(),
		UnitWeight:   item.UnitWeight,
		UnitVolume:   item.UnitVolume,
		DefaultPrice: item.DefaultPrice,
		IsActive:     item.IsActive,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
	switch spec := item.Spec.(type) {
	case PhysicalAsset:
		env.Condition = spec.Condition
	case ConsumableService:
		env.RequiresExchange = spec.RequiresExchange
		env.FullItemID = spec.FullItemID
		env.EmptyItemID = spec.EmptyItemID
		env.DepositItemID = spec.DepositItemID
	case Bundle:
		env.Components = spec.Components
	case DepositLiability:
	default:
		return nil, ErrInvalidCatalogState
	}
	return json.Marshal(env)
}

func decodeItem(raw []byte) (Item, error) {
	var env itemEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Item{}, err
	}
	item := Item{
		ID:           env.ID,
		ProductID:    env.ProductID,
		Code:         env.Code,
		Name:         env.Name,
		UnitWeight:   env.UnitWeight,
		UnitVolume:   env.UnitVolume,
		DefaultPrice: env.DefaultPrice,
		IsActive:     env.IsActive,
		CreatedAt:    env.CreatedAt,
		UpdatedAt:    env.UpdatedAt,
	}
	switch env.Kind {
	case KindPhysicalAsset:
		item.Spec = PhysicalAsset{Condition: env.Condition}
	case KindConsumableService:
		item.Spec = ConsumableService{
			RequiresExchange: env.RequiresExchange,
			FullItemID:       env.FullItemID,
			EmptyItemID:      env.EmptyItemID,
			DepositItemID:    env.DepositItemID,
		}
	case KindDepositLiability:
		item.Spec = DepositLiability{}
	case KindBundle:
		item.Spec = Bundle{Components: env.Components}
	default:
		return Item{}, ErrInvalidCatalogState
	}
	return item, nil
}
