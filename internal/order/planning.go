package order

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/fleet"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// PlanningSource resolves confirmed orders into the load plan trip planning
// consumes. Each order's lines are decomposed so that only the physical
// full-cylinder requirements reach the truck, and the empties the customer
// owes back are carried as an expectation, not a load line.
type PlanningSource struct {
	pool      *pgxpool.Pool
	decompose *Decomposer
}

// NewPlanningSource constructs PlanningSource.
func NewPlanningSource(pool *pgxpool.Pool, decomposer *Decomposer) *PlanningSource {
	return &PlanningSource{pool: pool, decompose: decomposer}
}

// OrdersForPlanning implements fleet.OrderSource.
func (s *PlanningSource) OrdersForPlanning(ctx context.Context, orderIDs []int64) ([]fleet.PlannedOrder, error) {
	if s == nil {
		return nil, errors.New("order planning source not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	if len(orderIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id, warehouse_id, status, COALESCE(assigned_trip_id, 0)
FROM orders WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	defer rows.Close()

	orders := make([]fleet.PlannedOrder, 0, len(orderIDs))
	for rows.Next() {
		var (
			po     fleet.PlannedOrder
			status string
		)
		if err := rows.Scan(&po.ID, &po.WarehouseID, &status, &po.AssignedTripID); err != nil {
			return nil, err
		}
		po.Ready = status == "CONFIRMED"
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if !orders[i].Ready {
			continue
		}
		if err := s.fillRequirements(ctx, tenantID, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// fillRequirements decomposes the order lines into load items and expected
// empties. Inbound requirements other than exchange empties (e.g. outright
// returns) also count as empties expected: they come back on the truck.
func (s *PlanningSource) fillRequirements(ctx context.Context, tenantID int64, po *fleet.PlannedOrder) error {
	rows, err := s.pool.Query(ctx, `SELECT item_id, qty, COALESCE(empties_returned, 0)
FROM order_lines WHERE tenant_id=$1 AND order_id=$2 ORDER BY id ASC`, tenantID, po.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	var reqs []LineRequest
	for rows.Next() {
		var line LineRequest
		if err := rows.Scan(&line.ItemID, &line.Quantity, &line.EmptiesReturned); err != nil {
			return err
		}
		reqs = append(reqs, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, merged, err := s.decompose.DecomposeAll(ctx, reqs)
	if err != nil {
		return fmt.Errorf("order %d: %w", po.ID, err)
	}
	po.EmptiesExpected = make(map[int64]decimal.Decimal)
	for itemID, dirs := range merged {
		if out := dirs[DirectionOutbound]; out.IsPositive() {
			po.Items = append(po.Items, fleet.LoadItem{ItemID: itemID, Qty: out})
		}
		if in := dirs[DirectionInbound]; in.IsPositive() {
			po.EmptiesExpected[itemID] = in
		}
	}
	sort.Slice(po.Items, func(i, j int) bool { return po.Items[i].ItemID < po.Items[j].ItemID })
	return nil
}
