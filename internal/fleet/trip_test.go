package fleet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/stockdoc"
)

type memFleetRepo struct {
	nextVehicleID int64
	nextTripID    int64
	vehicles      map[int64]Vehicle
	trips         map[int64]Trip
}

func newMemFleetRepo() *memFleetRepo {
	return &memFleetRepo{vehicles: map[int64]Vehicle{}, trips: map[int64]Trip{}}
}

func (m *memFleetRepo) CreateVehicle(_ context.Context, vehicle Vehicle) (Vehicle, error) {
	m.nextVehicleID++
	vehicle.ID = m.nextVehicleID
	m.vehicles[vehicle.ID] = vehicle
	return vehicle, nil
}

func (m *memFleetRepo) GetVehicle(_ context.Context, id int64) (Vehicle, error) {
	v, ok := m.vehicles[id]
	if !ok {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, nil
}

func (m *memFleetRepo) ListVehicles(_ context.Context) ([]Vehicle, error) {
	out := []Vehicle{}
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	return out, nil
}

func (m *memFleetRepo) CreateTrip(_ context.Context, trip Trip) (Trip, error) {
	m.nextTripID++
	trip.ID = m.nextTripID
	m.trips[trip.ID] = trip
	return trip, nil
}

func (m *memFleetRepo) GetTrip(_ context.Context, id int64) (Trip, error) {
	trip, ok := m.trips[id]
	if !ok {
		return Trip{}, ErrTripNotFound
	}
	items := make([]TripItem, len(trip.Items))
	copy(items, trip.Items)
	trip.Items = items
	return trip, nil
}

func (m *memFleetRepo) UpdateTrip(_ context.Context, trip Trip) error {
	stored, ok := m.trips[trip.ID]
	if !ok {
		return ErrTripNotFound
	}
	trip.Items = stored.Items
	m.trips[trip.ID] = trip
	return nil
}

func (m *memFleetRepo) ReplaceTripItems(_ context.Context, tripID int64, items []TripItem) error {
	trip, ok := m.trips[tripID]
	if !ok {
		return ErrTripNotFound
	}
	stored := make([]TripItem, len(items))
	copy(stored, items)
	trip.Items = stored
	m.trips[tripID] = trip
	return nil
}

func (m *memFleetRepo) ListTrips(_ context.Context, filter TripFilter) ([]Trip, error) {
	out := []Trip{}
	for _, trip := range m.trips {
		if filter.Status != "" && trip.Status != filter.Status {
			continue
		}
		if filter.VehicleID != 0 && trip.VehicleID != filter.VehicleID {
			continue
		}
		if !filter.StuckSince.IsZero() {
			if trip.Status != TripInProgress || trip.StartedAt == nil || !trip.StartedAt.Before(filter.StuckSince) {
				continue
			}
		}
		out = append(out, trip)
	}
	return out, nil
}

type fakeOrders map[int64]PlannedOrder

func (f fakeOrders) OrdersForPlanning(_ context.Context, orderIDs []int64) ([]PlannedOrder, error) {
	out := []PlannedOrder{}
	for _, id := range orderIDs {
		if ord, ok := f[id]; ok {
			out = append(out, ord)
		}
	}
	return out, nil
}

type varianceRecorder struct {
	events []VarianceEvent
}

func (v *varianceRecorder) VarianceDetected(_ context.Context, e VarianceEvent) {
	v.events = append(v.events, e)
}

type tripFixture struct {
	svc    *Service
	repo   *memFleetRepo
	docs   *fakeDocs
	orders fakeOrders
	sink   *varianceRecorder
}

func newTripFixture(t *testing.T) *tripFixture {
	t.Helper()
	repo := newMemFleetRepo()
	docs := &fakeDocs{}
	sink := &varianceRecorder{}
	orders := fakeOrders{
		100: {ID: 100, WarehouseID: 1, Ready: true,
			Items:           []LoadItem{{ItemID: itemCylFull, Qty: dec("6")}},
			EmptiesExpected: map[int64]decimal.Decimal{itemCylEmpty: dec("6")}},
		101: {ID: 101, WarehouseID: 1, Ready: true,
			Items: []LoadItem{{ItemID: itemCylFull, Qty: dec("4")}}},
		102: {ID: 102, WarehouseID: 2, Ready: true,
			Items: []LoadItem{{ItemID: itemCylFull, Qty: dec("1")}}},
		103: {ID: 103, WarehouseID: 1, Ready: false},
		104: {ID: 104, WarehouseID: 1, Ready: true, AssignedTripID: 99},
	}
	adapter := NewAdapter(docs, testCatalog(), decimal.Zero)
	svc := NewService(repo, adapter, orders, testCatalog(), sink, nil)
	return &tripFixture{svc: svc, repo: repo, docs: docs, orders: orders, sink: sink}
}

func (f *tripFixture) draftTrip(t *testing.T) Trip {
	t.Helper()
	ctx := context.Background()
	vehicle, err := f.svc.CreateVehicle(ctx, truck())
	require.NoError(t, err)
	trip, err := f.svc.CreateTrip(ctx, CreateTripInput{
		VehicleID: vehicle.ID, OriginWarehouseID: 1, ActorID: 1,
	})
	require.NoError(t, err)
	return trip
}

func TestTripHappyPath(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	trip, err := f.svc.Plan(ctx, trip.ID, []int64{100, 101}, 1)
	require.NoError(t, err)
	require.Equal(t, TripPlanned, trip.Status)
	require.Len(t, trip.OrderIDs, 2)

	trip, loadResult, err := f.svc.Load(ctx, trip.ID, false, 1)
	require.NoError(t, err)
	require.Equal(t, TripLoaded, trip.Status)
	require.Equal(t, loadResult.Document.ID, trip.LoadDocumentID)

	trip, err = f.svc.Start(ctx, trip.ID, 1)
	require.NoError(t, err)
	require.Equal(t, TripInProgress, trip.Status)

	// Deliver 7 of 10 loaded fulls, collecting 7 empties.
	trip, err = f.svc.RecordDelivery(ctx, trip.ID, DeliveryInput{
		OrderID: 100,
		Items: []DeliveredItem{{
			ItemID: itemCylFull, Qty: dec("7"),
			EmptyItemID: itemCylEmpty, EmptiesCollected: dec("7"),
		}},
		ActorID: 1,
	})
	require.NoError(t, err)

	var fullRec, emptyRec TripItem
	for _, item := range trip.Items {
		switch item.ItemID {
		case itemCylFull:
			fullRec = item
		case itemCylEmpty:
			emptyRec = item
		}
	}
	require.True(t, fullRec.Delivered.Equal(dec("7")))
	require.True(t, fullRec.ExpectedOnTruck().Equal(dec("3")))
	require.True(t, emptyRec.EmptiesCollected.Equal(dec("7")))

	// Yard counts 2 fulls (one lost on the road) and all 7 empties.
	trip, unloadResult, err := f.svc.Unload(ctx, trip.ID, UnloadTripInput{
		Actual: []CountItem{
			{ItemID: itemCylFull, Qty: dec("2")},
			{ItemID: itemCylEmpty, Qty: dec("7")},
		},
		ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, TripCompleted, trip.Status)
	require.NotNil(t, unloadResult.UnloadDocument)
	require.Equal(t, unloadResult.UnloadDocument.ID, trip.UnloadDocumentID)
	require.Len(t, unloadResult.VarianceDocuments, 1)

	require.Len(t, f.sink.events, 1)
	require.Equal(t, trip.ID, f.sink.events[0].TripID)
	require.True(t, f.sink.events[0].Variances[0].Variance.Equal(dec("-1")))
}

func TestPlanRejectsIneligibleOrders(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		orderIDs []int64
	}{
		{"wrong warehouse", []int64{102}},
		{"not ready", []int64{103}},
		{"assigned elsewhere", []int64{104}},
		{"unknown order", []int64{999}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trip := f.draftTrip(t)
			_, err := f.svc.Plan(ctx, trip.ID, tc.orderIDs, 1)
			require.ErrorIs(t, err, ErrOrderNotEligible)
		})
	}
}

func TestPlanRejectsOverCapacity(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	f.orders[200] = PlannedOrder{ID: 200, WarehouseID: 1, Ready: true,
		Items: []LoadItem{{ItemID: itemCylFull, Qty: dec("30")}}}

	trip := f.draftTrip(t)
	_, err := f.svc.Plan(ctx, trip.ID, []int64{200}, 1)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTripRejectsStageJumps(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	_, err := f.svc.Start(ctx, trip.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = f.svc.Load(ctx, trip.ID, false, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = f.svc.Unload(ctx, trip.ID, UnloadTripInput{ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeliveryCannotExceedTruckStock(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	trip, err := f.svc.Plan(ctx, trip.ID, []int64{101}, 1)
	require.NoError(t, err)
	trip, _, err = f.svc.Load(ctx, trip.ID, false, 1)
	require.NoError(t, err)
	trip, err = f.svc.Start(ctx, trip.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.RecordDelivery(ctx, trip.ID, DeliveryInput{
		Items:   []DeliveredItem{{ItemID: itemCylFull, Qty: dec("5")}},
		ActorID: 1,
	})
	require.Error(t, err, "only 4 on the truck")
}

func TestCancelLoadedTripForcesUnload(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	trip, err := f.svc.Plan(ctx, trip.ID, []int64{101}, 1)
	require.NoError(t, err)
	trip, _, err = f.svc.Load(ctx, trip.ID, false, 1)
	require.NoError(t, err)

	postedBefore := len(f.docs.posted)
	trip, err = f.svc.Cancel(ctx, trip.ID, "driver sick", 1)
	require.NoError(t, err)
	require.Equal(t, TripCancelled, trip.Status)
	require.NotZero(t, trip.UnloadDocumentID)

	// Exactly one compensating unload, no variance documents.
	require.Equal(t, postedBefore+1, len(f.docs.posted))
	last := f.docs.posted[len(f.docs.posted)-1]
	require.Equal(t, stockdoc.TypeTruckUnload, last.Type)
	require.True(t, last.Lines[0].Qty.Equal(dec("4")))
}

func TestCancelDraftTripNoDocuments(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	trip, err := f.svc.Cancel(ctx, trip.ID, "", 1)
	require.NoError(t, err)
	require.Equal(t, TripCancelled, trip.Status)
	require.Empty(t, f.docs.posted)
}

func TestCancelCompletedTripRejected(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	trip := f.draftTrip(t)

	trip, err := f.svc.Plan(ctx, trip.ID, []int64{101}, 1)
	require.NoError(t, err)
	trip, _, err = f.svc.Load(ctx, trip.ID, false, 1)
	require.NoError(t, err)
	trip, err = f.svc.Start(ctx, trip.ID, 1)
	require.NoError(t, err)
	trip, _, err = f.svc.Unload(ctx, trip.ID, UnloadTripInput{
		Actual:  []CountItem{{ItemID: itemCylFull, Qty: dec("4")}},
		ActorID: 1,
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, trip.ID, "", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPlanMergesLoadAndEmptiesRows(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	// Order 301 hauls empties back to the yard and also expects empties
	// collected on delivery, so item 11 is both a load line and an
	// expected empty.
	f.orders[301] = PlannedOrder{ID: 301, WarehouseID: 1, Ready: true,
		Items: []LoadItem{
			{ItemID: itemCylFull, Qty: dec("5")},
			{ItemID: itemCylEmpty, Qty: dec("2")},
		},
		EmptiesExpected: map[int64]decimal.Decimal{itemCylEmpty: dec("5")}}

	trip := f.draftTrip(t)
	trip, err := f.svc.Plan(ctx, trip.ID, []int64{301}, 1)
	require.NoError(t, err)

	require.Len(t, trip.Items, 2)
	require.Equal(t, itemCylFull, trip.Items[0].ItemID)
	require.Equal(t, itemCylEmpty, trip.Items[1].ItemID)
	require.True(t, trip.Items[0].Planned.Equal(dec("5")))
	require.True(t, trip.Items[1].Planned.Equal(dec("2")))
	require.True(t, trip.Items[1].EmptiesExpected.Equal(dec("5")))
}

func TestDeliveryAfterNewEmptiesRowKeepsLaterLines(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	f.orders[302] = PlannedOrder{ID: 302, WarehouseID: 1, Ready: true,
		Items: []LoadItem{
			{ItemID: itemCylFull, Qty: dec("2")},
			{ItemID: itemBigFull, Qty: dec("3")},
		}}

	trip := f.draftTrip(t)
	trip, err := f.svc.Plan(ctx, trip.ID, []int64{302}, 1)
	require.NoError(t, err)
	trip, _, err = f.svc.Load(ctx, trip.ID, false, 1)
	require.NoError(t, err)
	trip, err = f.svc.Start(ctx, trip.ID, 1)
	require.NoError(t, err)

	// The first line collects empties for an item that has no row on the
	// trip yet; the second line's delivered count must still land on its
	// own row.
	trip, err = f.svc.RecordDelivery(ctx, trip.ID, DeliveryInput{
		OrderID: 302,
		Items: []DeliveredItem{
			{ItemID: itemCylFull, Qty: dec("1"),
				EmptyItemID: itemCylEmpty, EmptiesCollected: dec("1")},
			{ItemID: itemBigFull, Qty: dec("2")},
		},
		ActorID: 1,
	})
	require.NoError(t, err)

	byItem := map[int64]TripItem{}
	for _, item := range trip.Items {
		byItem[item.ItemID] = item
	}
	require.True(t, byItem[itemCylFull].Delivered.Equal(dec("1")))
	require.True(t, byItem[itemBigFull].Delivered.Equal(dec("2")))
	require.True(t, byItem[itemCylEmpty].EmptiesCollected.Equal(dec("1")))
}
