package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Repository persists stock balances, movements and reservations in
// PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the service composes.
// Document posting reuses the same interface inside its own transaction so
// ledger deltas and document state always commit together.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, loc LocationRef, itemID int64, status Status) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertReservation(ctx context.Context, res Reservation) error
	GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	MarkReservationReleased(ctx context.Context, id uuid.UUID) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open pgx transaction. Used by the stock document
// engine to apply ledger effects inside the document transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Balances lists every non-zero balance at a location.
func (r *Repository) Balances(ctx context.Context, loc LocationRef) ([]Balance, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	rows, err := r.pool.Query(ctx, `SELECT location_kind, location_id, item_id, status, total_qty, reserved_qty, unit_cost, updated_at
FROM stock_balances
WHERE tenant_id=$1 AND location_kind=$2 AND location_id=$3 AND total_qty <> 0
ORDER BY item_id ASC, status ASC`, tenantID, loc.Kind, loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.Location.Kind, &bal.Location.ID, &bal.ItemID, &bal.Status, &bal.Total, &bal.Reserved, &bal.UnitCost, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// MovementFilter restricts the movement journal listing.
type MovementFilter struct {
	Location LocationRef
	ItemID   int64
	From     time.Time
	To       time.Time
	Limit    int
}

// Movements lists journal rows for one location and item, oldest first.
func (r *Repository) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, location_kind, location_id, item_id, status, qty, unit_cost, ref_type, ref_id, note, actor_id, posted_at
FROM stock_movements
WHERE tenant_id=$1 AND location_kind=$2 AND location_id=$3 AND item_id=$4
  AND posted_at BETWEEN COALESCE($5, '-infinity') AND COALESCE($6, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $7`, tenantID, filter.Location.Kind, filter.Location.ID, filter.ItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Location.Kind, &m.Location.ID, &m.ItemID, &m.Status, &m.Qty, &m.UnitCost, &m.RefType, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, loc LocationRef, itemID int64, status Status) (Balance, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Balance{}, shared.ErrTenantRequired
	}
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT location_kind, location_id, item_id, status, total_qty, reserved_qty, unit_cost, updated_at
FROM stock_balances
WHERE tenant_id=$1 AND location_kind=$2 AND location_id=$3 AND item_id=$4 AND status=$5
FOR UPDATE`, tenantID, loc.Kind, loc.ID, itemID, status).
		Scan(&bal.Location.Kind, &bal.Location.ID, &bal.ItemID, &bal.Status, &bal.Total, &bal.Reserved, &bal.UnitCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Location: loc, ItemID: itemID, Status: status}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (tenant_id, location_kind, location_id, item_id, status, total_qty, reserved_qty, unit_cost, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (tenant_id, location_kind, location_id, item_id, status)
DO UPDATE SET total_qty=EXCLUDED.total_qty, reserved_qty=EXCLUDED.reserved_qty, unit_cost=EXCLUDED.unit_cost, updated_at=NOW()`,
		tenantID, balance.Location.Kind, balance.Location.ID, balance.ItemID, balance.Status, balance.Total, balance.Reserved, balance.UnitCost)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return 0, shared.ErrTenantRequired
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, location_kind, location_id, item_id, status, qty, unit_cost, ref_type, ref_id, note, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		tenantID, m.Location.Kind, m.Location.ID, m.ItemID, m.Status, m.Qty, m.UnitCost, m.RefType, nullString(m.RefID), m.Note, nullInt(m.ActorID), m.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_reservations (id, tenant_id, location_kind, location_id, item_id, status, qty, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		res.ID, tenantID, res.Location.Kind, res.Location.ID, res.ItemID, res.Status, res.Qty)
	return err
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Reservation{}, shared.ErrTenantRequired
	}
	var res Reservation
	err := r.tx.QueryRow(ctx, `SELECT id, location_kind, location_id, item_id, status, qty, created_at, released_at
FROM stock_reservations WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id).
		Scan(&res.ID, &res.Location.Kind, &res.Location.ID, &res.ItemID, &res.Status, &res.Qty, &res.CreatedAt, &res.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	return res, nil
}

func (r *txRepository) MarkReservationReleased(ctx context.Context, id uuid.UUID) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	_, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET released_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
