package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Repository persists vehicles and trips in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const vehicleColumns = `id, code, name, plate_number, capacity_weight, capacity_volume, is_active, created_at, updated_at`

// CreateVehicle inserts a vehicle.
func (r *Repository) CreateVehicle(ctx context.Context, vehicle Vehicle) (Vehicle, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Vehicle{}, shared.ErrTenantRequired
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO fleet_vehicles
(tenant_id, code, name, plate_number, capacity_weight, capacity_volume, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		tenantID, vehicle.Code, vehicle.Name, vehicle.PlateNumber,
		vehicle.CapacityWeight, vehicle.CapacityVolume, vehicle.IsActive).
		Scan(&vehicle.ID, &vehicle.CreatedAt, &vehicle.UpdatedAt)
	return vehicle, err
}

// GetVehicle loads one vehicle.
func (r *Repository) GetVehicle(ctx context.Context, id int64) (Vehicle, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Vehicle{}, shared.ErrTenantRequired
	}
	var v Vehicle
	err := r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+`
FROM fleet_vehicles WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&v.ID, &v.Code, &v.Name, &v.PlateNumber, &v.CapacityWeight, &v.CapacityVolume, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, err
}

// ListVehicles lists the tenant's vehicles.
func (r *Repository) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	rows, err := r.pool.Query(ctx, `SELECT `+vehicleColumns+`
FROM fleet_vehicles WHERE tenant_id=$1 ORDER BY code ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vehicles := []Vehicle{}
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.PlateNumber, &v.CapacityWeight, &v.CapacityVolume, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

const tripColumns = `id, vehicle_id, origin_warehouse_id, driver_id, status, note,
load_document_id, unload_document_id, created_by, created_at, updated_at,
planned_at, loaded_at, started_at, completed_at, cancelled_at`

// CreateTrip inserts a draft trip.
func (r *Repository) CreateTrip(ctx context.Context, trip Trip) (Trip, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Trip{}, shared.ErrTenantRequired
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO trips
(tenant_id, vehicle_id, origin_warehouse_id, driver_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		tenantID, trip.VehicleID, trip.OriginWarehouseID, nullInt(trip.DriverID),
		trip.Status, trip.Note, trip.CreatedBy).
		Scan(&trip.ID, &trip.CreatedAt, &trip.UpdatedAt)
	return trip, err
}

// GetTrip loads one trip with its order assignments and inventory records.
func (r *Repository) GetTrip(ctx context.Context, id int64) (Trip, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Trip{}, shared.ErrTenantRequired
	}
	var trip Trip
	var driverID, loadDoc, unloadDoc *int64
	err := r.pool.QueryRow(ctx, `SELECT `+tripColumns+`
FROM trips WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&trip.ID, &trip.VehicleID, &trip.OriginWarehouseID, &driverID, &trip.Status, &trip.Note,
			&loadDoc, &unloadDoc, &trip.CreatedBy, &trip.CreatedAt, &trip.UpdatedAt,
			&trip.PlannedAt, &trip.LoadedAt, &trip.StartedAt, &trip.CompletedAt, &trip.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trip{}, ErrTripNotFound
	}
	if err != nil {
		return Trip{}, err
	}
	if driverID != nil {
		trip.DriverID = *driverID
	}
	if loadDoc != nil {
		trip.LoadDocumentID = *loadDoc
	}
	if unloadDoc != nil {
		trip.UnloadDocumentID = *unloadDoc
	}

	orderRows, err := r.pool.Query(ctx, `SELECT order_id FROM trip_orders
WHERE tenant_id=$1 AND trip_id=$2 ORDER BY order_id ASC`, tenantID, id)
	if err != nil {
		return Trip{}, err
	}
	defer orderRows.Close()
	for orderRows.Next() {
		var orderID int64
		if err := orderRows.Scan(&orderID); err != nil {
			return Trip{}, err
		}
		trip.OrderIDs = append(trip.OrderIDs, orderID)
	}
	if err := orderRows.Err(); err != nil {
		return Trip{}, err
	}

	itemRows, err := r.pool.Query(ctx, `SELECT item_id, planned, loaded, delivered, empties_expected, empties_collected
FROM trip_items WHERE tenant_id=$1 AND trip_id=$2 ORDER BY item_id ASC`, tenantID, id)
	if err != nil {
		return Trip{}, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item := TripItem{TripID: id}
		if err := itemRows.Scan(&item.ItemID, &item.Planned, &item.Loaded, &item.Delivered, &item.EmptiesExpected, &item.EmptiesCollected); err != nil {
			return Trip{}, err
		}
		trip.Items = append(trip.Items, item)
	}
	return trip, itemRows.Err()
}

// UpdateTrip persists status, document links and order assignments.
func (r *Repository) UpdateTrip(ctx context.Context, trip Trip) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `UPDATE trips
SET status=$3, note=$4, load_document_id=$5, unload_document_id=$6, updated_at=NOW(),
    planned_at=$7, loaded_at=$8, started_at=$9, completed_at=$10, cancelled_at=$11
WHERE tenant_id=$1 AND id=$2`,
		tenantID, trip.ID, trip.Status, trip.Note,
		nullInt(trip.LoadDocumentID), nullInt(trip.UnloadDocumentID),
		trip.PlannedAt, trip.LoadedAt, trip.StartedAt, trip.CompletedAt, trip.CancelledAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trip_orders WHERE tenant_id=$1 AND trip_id=$2`, tenantID, trip.ID); err != nil {
		return err
	}
	for _, orderID := range trip.OrderIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO trip_orders (tenant_id, trip_id, order_id) VALUES ($1,$2,$3)`,
			tenantID, trip.ID, orderID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReplaceTripItems rewrites the trip inventory records.
func (r *Repository) ReplaceTripItems(ctx context.Context, tripID int64, items []TripItem) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM trip_items WHERE tenant_id=$1 AND trip_id=$2`, tenantID, tripID); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := tx.Exec(ctx, `INSERT INTO trip_items
(tenant_id, trip_id, item_id, planned, loaded, delivered, empties_expected, empties_collected)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			tenantID, tripID, item.ItemID, item.Planned, item.Loaded, item.Delivered,
			item.EmptiesExpected, item.EmptiesCollected); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListTrips lists matching trips without items.
func (r *Repository) ListTrips(ctx context.Context, filter TripFilter) ([]Trip, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+tripColumns+`
FROM trips
WHERE tenant_id=$1
  AND ($2 = 0 OR vehicle_id=$2)
  AND ($3 = '' OR status=$3)
  AND ($4::timestamptz IS NULL OR (status='IN_PROGRESS' AND started_at < $4))
ORDER BY id DESC
LIMIT $5`, tenantID, filter.VehicleID, string(filter.Status), nullTime(filter.StuckSince), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	trips := []Trip{}
	for rows.Next() {
		var trip Trip
		var driverID, loadDoc, unloadDoc *int64
		if err := rows.Scan(&trip.ID, &trip.VehicleID, &trip.OriginWarehouseID, &driverID, &trip.Status, &trip.Note,
			&loadDoc, &unloadDoc, &trip.CreatedBy, &trip.CreatedAt, &trip.UpdatedAt,
			&trip.PlannedAt, &trip.LoadedAt, &trip.StartedAt, &trip.CompletedAt, &trip.CancelledAt); err != nil {
			return nil, err
		}
		if driverID != nil {
			trip.DriverID = *driverID
		}
		if loadDoc != nil {
			trip.LoadDocumentID = *loadDoc
		}
		if unloadDoc != nil {
			trip.UnloadDocumentID = *unloadDoc
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
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
