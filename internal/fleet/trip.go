package fleet

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// RepositoryPort persists vehicles and trips.
type RepositoryPort interface {
	CreateVehicle(ctx context.Context, vehicle Vehicle) (Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (Vehicle, error)
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	CreateTrip(ctx context.Context, trip Trip) (Trip, error)
	GetTrip(ctx context.Context, id int64) (Trip, error)
	UpdateTrip(ctx context.Context, trip Trip) error
	ReplaceTripItems(ctx context.Context, tripID int64, items []TripItem) error
	ListTrips(ctx context.Context, filter TripFilter) ([]Trip, error)
}

// TripFilter restricts ListTrips.
type TripFilter struct {
	VehicleID int64
	Status    TripStatus
	// StuckSince matches IN_PROGRESS trips started before this instant.
	StuckSince time.Time
	Limit     int
}

// PlannedOrder is the order view the planning gate consumes.
type PlannedOrder struct {
	ID             int64
	WarehouseID    int64
	Ready          bool
	AssignedTripID int64
	Items          []LoadItem
	// EmptiesExpected maps empty-cylinder item ids to the count the customer
	// owes back on delivery.
	EmptiesExpected map[int64]decimal.Decimal
}

// OrderSource supplies orders for trip planning.
type OrderSource interface {
	OrdersForPlanning(ctx context.Context, orderIDs []int64) ([]PlannedOrder, error)
}

// VarianceEvent is raised once per unload that found differences.
type VarianceEvent struct {
	TripID    int64
	VehicleID int64
	Variances []ItemVariance
	At        time.Time
}

// VarianceSink receives variance events. Best effort only.
type VarianceSink interface {
	VarianceDetected(ctx context.Context, event VarianceEvent)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the trip lifecycle around the vehicle adapter.
type Service struct {
	repo      RepositoryPort
	adapter   *Adapter
	orders    OrderSource
	catalog   catalog.Lookup
	variances VarianceSink
	audit     AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, adapter *Adapter, orders OrderSource, lookup catalog.Lookup, variances VarianceSink, audit AuditPort) *Service {
	return &Service{repo: repo, adapter: adapter, orders: orders, catalog: lookup, variances: variances, audit: audit}
}

// CreateVehicle registers a truck.
func (s *Service) CreateVehicle(ctx context.Context, vehicle Vehicle) (Vehicle, error) {
	if vehicle.Code == "" {
		return Vehicle{}, fmt.Errorf("fleet: vehicle code required")
	}
	if vehicle.CapacityWeight.IsNegative() || vehicle.CapacityVolume.IsNegative() {
		return Vehicle{}, fmt.Errorf("fleet: vehicle capacity must not be negative")
	}
	vehicle.IsActive = true
	return s.repo.CreateVehicle(ctx, vehicle)
}

// GetVehicle loads one vehicle.
func (s *Service) GetVehicle(ctx context.Context, id int64) (Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// ListVehicles lists all vehicles.
func (s *Service) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	return s.repo.ListVehicles(ctx)
}

// CreateTripInput opens a draft trip.
type CreateTripInput struct {
	VehicleID         int64
	OriginWarehouseID int64
	DriverID          int64
	Note              string
	ActorID           int64
}

// CreateTrip opens a DRAFT trip for a vehicle.
func (s *Service) CreateTrip(ctx context.Context, input CreateTripInput) (Trip, error) {
	vehicle, err := s.repo.GetVehicle(ctx, input.VehicleID)
	if err != nil {
		return Trip{}, err
	}
	if !vehicle.IsActive {
		return Trip{}, fmt.Errorf("fleet: vehicle %s is inactive", vehicle.Code)
	}
	if input.OriginWarehouseID == 0 {
		return Trip{}, fmt.Errorf("fleet: origin warehouse required")
	}
	trip, err := s.repo.CreateTrip(ctx, Trip{
		VehicleID:         input.VehicleID,
		OriginWarehouseID: input.OriginWarehouseID,
		DriverID:          input.DriverID,
		Status:            TripDraft,
		Note:              input.Note,
		CreatedBy:         input.ActorID,
	})
	if err != nil {
		return Trip{}, err
	}
	s.record(ctx, input.ActorID, "fleet:trip_create", trip)
	return trip, nil
}

// Plan fixes the trip's orders and quantities. Every order must be ready,
// originate from the trip's warehouse and be unassigned; the aggregate must
// fit the vehicle.
func (s *Service) Plan(ctx context.Context, tripID int64, orderIDs []int64, actorID int64) (Trip, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}
	if !trip.Status.CanTransition(TripPlanned) {
		return Trip{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripPlanned}
	}
	if len(orderIDs) == 0 {
		return Trip{}, fmt.Errorf("%w: no orders", ErrOrderNotEligible)
	}
	orders, err := s.orders.OrdersForPlanning(ctx, orderIDs)
	if err != nil {
		return Trip{}, err
	}
	if len(orders) != len(orderIDs) {
		return Trip{}, fmt.Errorf("%w: unknown order in plan", ErrOrderNotEligible)
	}

	aggregate := map[int64]decimal.Decimal{}
	empties := map[int64]decimal.Decimal{}
	for _, ord := range orders {
		if !ord.Ready {
			return Trip{}, fmt.Errorf("%w: order %d not ready", ErrOrderNotEligible, ord.ID)
		}
		if ord.WarehouseID != trip.OriginWarehouseID {
			return Trip{}, fmt.Errorf("%w: order %d ships from warehouse %d", ErrOrderNotEligible, ord.ID, ord.WarehouseID)
		}
		if ord.AssignedTripID != 0 && ord.AssignedTripID != tripID {
			return Trip{}, fmt.Errorf("%w: order %d already on trip %d", ErrOrderNotEligible, ord.ID, ord.AssignedTripID)
		}
		for _, li := range ord.Items {
			aggregate[li.ItemID] = aggregate[li.ItemID].Add(li.Qty)
		}
		for itemID, qty := range ord.EmptiesExpected {
			empties[itemID] = empties[itemID].Add(qty)
		}
	}

	vehicle, err := s.repo.GetVehicle(ctx, trip.VehicleID)
	if err != nil {
		return Trip{}, err
	}
	loadItems := make([]LoadItem, 0, len(aggregate))
	for itemID, qty := range aggregate {
		loadItems = append(loadItems, LoadItem{ItemID: itemID, Qty: qty})
	}
	report, err := BuildCapacityReport(ctx, s.catalog, vehicle, loadItems, s.adapter.warnThreshold)
	if err != nil {
		return Trip{}, err
	}
	if report.Exceeded() {
		return Trip{}, &CapacityError{VehicleCode: vehicle.Code, Report: report}
	}

	// One row per (trip, item): an item can be both a load line and an
	// expected empty, and the inventory record keys on the item id.
	rows := map[int64]TripItem{}
	for itemID, qty := range aggregate {
		rows[itemID] = TripItem{TripID: tripID, ItemID: itemID, Planned: qty}
	}
	for itemID, qty := range empties {
		row := rows[itemID]
		row.TripID = tripID
		row.ItemID = itemID
		row.EmptiesExpected = qty
		rows[itemID] = row
	}
	items := make([]TripItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	if err := s.repo.ReplaceTripItems(ctx, tripID, items); err != nil {
		return Trip{}, err
	}

	now := time.Now().UTC()
	trip.Status = TripPlanned
	trip.PlannedAt = &now
	trip.OrderIDs = orderIDs
	trip.Items = items
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	s.record(ctx, actorID, "fleet:trip_plan", trip)
	return trip, nil
}

// Load posts the TRUCK_LOAD for the planned quantities and moves the trip
// to LOADED.
func (s *Service) Load(ctx context.Context, tripID int64, allowPartial bool, actorID int64) (Trip, LoadResult, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, LoadResult{}, err
	}
	if !trip.Status.CanTransition(TripLoaded) {
		return Trip{}, LoadResult{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripLoaded}
	}
	vehicle, err := s.repo.GetVehicle(ctx, trip.VehicleID)
	if err != nil {
		return Trip{}, LoadResult{}, err
	}

	loadItems := []LoadItem{}
	for _, item := range trip.Items {
		if item.Planned.IsPositive() {
			loadItems = append(loadItems, LoadItem{ItemID: item.ItemID, Qty: item.Planned})
		}
	}
	result, err := s.adapter.Load(ctx, LoadInput{
		Vehicle:         vehicle,
		TripID:          tripID,
		SourceWarehouse: trip.OriginWarehouseID,
		Items:           loadItems,
		AllowPartial:    allowPartial,
		ActorID:         actorID,
	})
	if err != nil {
		return Trip{}, LoadResult{}, err
	}

	loadedByItem := map[int64]decimal.Decimal{}
	for _, li := range result.Loaded {
		loadedByItem[li.ItemID] = li.Qty
	}
	for i := range trip.Items {
		trip.Items[i].Loaded = loadedByItem[trip.Items[i].ItemID]
	}
	if err := s.repo.ReplaceTripItems(ctx, tripID, trip.Items); err != nil {
		return Trip{}, LoadResult{}, err
	}

	now := time.Now().UTC()
	trip.Status = TripLoaded
	trip.LoadedAt = &now
	trip.LoadDocumentID = result.Document.ID
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, LoadResult{}, err
	}
	s.record(ctx, actorID, "fleet:trip_load", trip)
	return trip, result, nil
}

// Start moves a loaded trip onto the road.
func (s *Service) Start(ctx context.Context, tripID int64, actorID int64) (Trip, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}
	if !trip.Status.CanTransition(TripInProgress) {
		return Trip{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripInProgress}
	}
	now := time.Now().UTC()
	trip.Status = TripInProgress
	trip.StartedAt = &now
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	s.record(ctx, actorID, "fleet:trip_start", trip)
	return trip, nil
}

// DeliveredItem is one handover at a customer stop.
type DeliveredItem struct {
	ItemID int64
	Qty    decimal.Decimal
	// EmptyItemID and EmptiesCollected record the exchange empties taken
	// back onto the truck at the same stop.
	EmptyItemID      int64
	EmptiesCollected decimal.Decimal
}

// DeliveryInput records one stop.
type DeliveryInput struct {
	OrderID int64
	Items   []DeliveredItem
	ActorID int64
}

// RecordDelivery drains truck stock for the handed-over quantities, books
// collected empties onto the truck and updates the trip inventory record.
func (s *Service) RecordDelivery(ctx context.Context, tripID int64, input DeliveryInput) (Trip, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}
	if trip.Status != TripInProgress {
		return Trip{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripInProgress}
	}

	index := map[int64]int{}
	for i := range trip.Items {
		index[trip.Items[i].ItemID] = i
	}
	for _, di := range input.Items {
		if !di.Qty.IsPositive() {
			return Trip{}, fmt.Errorf("fleet: delivered quantity for item %d must be positive", di.ItemID)
		}
		i, ok := index[di.ItemID]
		if !ok || trip.Items[i].Loaded.Sub(trip.Items[i].Delivered).LessThan(di.Qty) {
			return Trip{}, fmt.Errorf("fleet: delivery of item %d exceeds truck stock", di.ItemID)
		}
		if di.EmptiesCollected.IsNegative() {
			return Trip{}, fmt.Errorf("fleet: empties collected must not be negative")
		}
	}

	if err := s.adapter.recordDelivery(ctx, trip, input); err != nil {
		return Trip{}, err
	}

	// Mutate by index: appending a row for a newly collected empty item
	// reallocates trip.Items, which would strand pointers into the old
	// backing array.
	for _, di := range input.Items {
		i := index[di.ItemID]
		trip.Items[i].Delivered = trip.Items[i].Delivered.Add(di.Qty)
		if di.EmptyItemID != 0 && di.EmptiesCollected.IsPositive() {
			if j, ok := index[di.EmptyItemID]; ok {
				trip.Items[j].EmptiesCollected = trip.Items[j].EmptiesCollected.Add(di.EmptiesCollected)
			} else {
				trip.Items = append(trip.Items, TripItem{TripID: tripID, ItemID: di.EmptyItemID, EmptiesCollected: di.EmptiesCollected})
				index[di.EmptyItemID] = len(trip.Items) - 1
			}
		}
	}
	if err := s.repo.ReplaceTripItems(ctx, tripID, trip.Items); err != nil {
		return Trip{}, err
	}
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	s.record(ctx, input.ActorID, "fleet:trip_delivery", trip)
	return trip, nil
}

// UnloadTripInput closes out a trip at the destination warehouse.
type UnloadTripInput struct {
	// DestWarehouseID defaults to the trip origin.
	DestWarehouseID int64
	Actual          []CountItem
	ActorID         int64
}

// Unload reconciles the counted truck stock, posts the unload and variance
// documents and completes the trip.
func (s *Service) Unload(ctx context.Context, tripID int64, input UnloadTripInput) (Trip, UnloadResult, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, UnloadResult{}, err
	}
	if !trip.Status.CanTransition(TripCompleted) {
		return Trip{}, UnloadResult{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripCompleted}
	}
	vehicle, err := s.repo.GetVehicle(ctx, trip.VehicleID)
	if err != nil {
		return Trip{}, UnloadResult{}, err
	}
	dest := input.DestWarehouseID
	if dest == 0 {
		dest = trip.OriginWarehouseID
	}

	expected := map[int64]decimal.Decimal{}
	for _, item := range trip.Items {
		if v := item.ExpectedOnTruck(); !v.IsZero() {
			expected[item.ItemID] = v
		}
	}
	result, err := s.adapter.Unload(ctx, UnloadInput{
		Vehicle:       vehicle,
		TripID:        tripID,
		DestWarehouse: dest,
		Expected:      expected,
		Actual:        input.Actual,
		ActorID:       input.ActorID,
	})
	if err != nil {
		return Trip{}, UnloadResult{}, err
	}

	now := time.Now().UTC()
	trip.Status = TripCompleted
	trip.CompletedAt = &now
	if result.UnloadDocument != nil {
		trip.UnloadDocumentID = result.UnloadDocument.ID
	}
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, UnloadResult{}, err
	}
	s.record(ctx, input.ActorID, "fleet:trip_unload", trip)
	if len(result.Variances) > 0 && s.variances != nil {
		s.variances.VarianceDetected(ctx, VarianceEvent{
			TripID: tripID, VehicleID: vehicle.ID, Variances: result.Variances, At: now,
		})
	}
	return trip, result, nil
}

// Cancel terminates a trip. A trip with stock on the truck is force-unloaded
// back to its origin warehouse first so no balance is stranded on the
// vehicle.
func (s *Service) Cancel(ctx context.Context, tripID int64, reason string, actorID int64) (Trip, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}
	if !trip.Status.CanTransition(TripCancelled) {
		return Trip{}, &TransitionError{TripID: tripID, From: trip.Status, To: TripCancelled}
	}

	if trip.Status == TripLoaded || trip.Status == TripInProgress {
		vehicle, err := s.repo.GetVehicle(ctx, trip.VehicleID)
		if err != nil {
			return Trip{}, err
		}
		actual := []CountItem{}
		expected := map[int64]decimal.Decimal{}
		for _, item := range trip.Items {
			if v := item.ExpectedOnTruck(); v.IsPositive() {
				expected[item.ItemID] = v
				actual = append(actual, CountItem{ItemID: item.ItemID, Qty: v})
			}
		}
		if len(actual) > 0 {
			result, err := s.adapter.Unload(ctx, UnloadInput{
				Vehicle:       vehicle,
				TripID:        tripID,
				DestWarehouse: trip.OriginWarehouseID,
				Expected:      expected,
				Actual:        actual,
				ActorID:       actorID,
			})
			if err != nil {
				return Trip{}, err
			}
			if result.UnloadDocument != nil {
				trip.UnloadDocumentID = result.UnloadDocument.ID
			}
		}
	}

	now := time.Now().UTC()
	trip.Status = TripCancelled
	trip.CancelledAt = &now
	if reason != "" {
		trip.Note = reason
	}
	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	s.record(ctx, actorID, "fleet:trip_cancel", trip)
	return trip, nil
}

// GetTrip loads one trip with items.
func (s *Service) GetTrip(ctx context.Context, id int64) (Trip, error) {
	return s.repo.GetTrip(ctx, id)
}

// ListTrips lists matching trips.
func (s *Service) ListTrips(ctx context.Context, filter TripFilter) ([]Trip, error) {
	return s.repo.ListTrips(ctx, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, trip Trip) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "trip",
		EntityID: fmt.Sprintf("%d", trip.ID),
		Meta: map[string]any{
			"vehicle_id": trip.VehicleID,
			"status":     trip.Status,
		},
	})
}
