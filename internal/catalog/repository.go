package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Repository reads catalog items from PostgreSQL. Items are written by the
// catalog management surface of the hosting application; this repository is
// read-only by design.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, product_id, code, name, kind, condition, requires_exchange,
full_item_id, empty_item_id, deposit_item_id, unit_weight, unit_volume, default_price,
is_active, created_at, updated_at`

// ItemByID loads one item including its bundle components.
func (r *Repository) ItemByID(ctx context.Context, id int64) (Item, error) {
	return r.fetch(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL`, id)
}

// ItemByCode loads one item by its unique code.
func (r *Repository) ItemByCode(ctx context.Context, code string) (Item, error) {
	return r.fetch(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE tenant_id=$1 AND code=$2 AND deleted_at IS NULL`, code)
}

func (r *Repository) fetch(ctx context.Context, query string, arg any) (Item, error) {
	if r == nil {
		return Item{}, errors.New("catalog repository not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Item{}, shared.ErrTenantRequired
	}
	row := r.pool.QueryRow(ctx, query, tenantID, arg)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	if bundle, ok := item.Spec.(Bundle); ok {
		components, err := r.components(ctx, tenantID, item.ID)
		if err != nil {
			return Item{}, err
		}
		bundle.Components = components
		item.Spec = bundle
	}
	return item, nil
}

func (r *Repository) components(ctx context.Context, tenantID, bundleID int64) ([]Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT component_item_id, qty FROM catalog_bundle_components
WHERE tenant_id=$1 AND bundle_item_id=$2 ORDER BY line_order ASC`, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var components []Component
	for rows.Next() {
		var comp Component
		if err := rows.Scan(&comp.ItemID, &comp.Qty); err != nil {
			return nil, err
		}
		components = append(components, comp)
	}
	return components, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item          Item
		kind          string
		condition     *string
		requiresExch  *bool
		fullItemID    *int64
		emptyItemID   *int64
		depositItemID *int64
	)
	err := row.Scan(&item.ID, &item.ProductID, &item.Code, &item.Name, &kind, &condition, &requiresExch,
		&fullItemID, &emptyItemID, &depositItemID, &item.UnitWeight, &item.UnitVolume, &item.DefaultPrice,
		&item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	spec, err := specFromColumns(ItemKind(kind), condition, requiresExch, fullItemID, emptyItemID, depositItemID)
	if err != nil {
		return Item{}, err
	}
	item.Spec = spec
	return item, nil
}

// specFromColumns rebuilds the closed variant from the flat storage columns.
// The kind enumeration is defined once in this package; storage consumes it.
func specFromColumns(kind ItemKind, condition *string, requiresExch *bool, fullItemID, emptyItemID, depositItemID *int64) (KindSpec, error) {
	switch kind {
	case KindPhysicalAsset:
		if condition == nil {
			return nil, ErrInvalidCatalogState
		}
		return PhysicalAsset{Condition: Condition(*condition)}, nil
	case KindConsumableService:
		spec := ConsumableService{}
		if requiresExch != nil {
			spec.RequiresExchange = *requiresExch
		}
		if fullItemID != nil {
			spec.FullItemID = *fullItemID
		}
		if emptyItemID != nil {
			spec.EmptyItemID = *emptyItemID
		}
		if depositItemID != nil {
			spec.DepositItemID = *depositItemID
		}
		return spec, nil
	case KindDepositLiability:
		return DepositLiability{}, nil
	case KindBundle:
		return Bundle{}, nil
	default:
		return nil, ErrInvalidCatalogState
	}
}
