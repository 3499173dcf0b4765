package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memKey struct {
	loc    LocationRef
	itemID int64
	status Status
}

// memoryRepo serialises transactions with a mutex and snapshots state at
// begin, mirroring the rollback semantics of the real repository.
type memoryRepo struct {
	mu           sync.Mutex
	balances     map[memKey]Balance
	movements    []Movement
	reservations map[uuid.UUID]Reservation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		balances:     map[memKey]Balance{},
		reservations: map[uuid.UUID]Reservation{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshotBalances := make(map[memKey]Balance, len(m.balances))
	for k, v := range m.balances {
		snapshotBalances[k] = v
	}
	snapshotReservations := make(map[uuid.UUID]Reservation, len(m.reservations))
	for k, v := range m.reservations {
		snapshotReservations[k] = v
	}
	snapshotMovements := len(m.movements)
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.balances = snapshotBalances
		m.reservations = snapshotReservations
		m.movements = m.movements[:snapshotMovements]
		return err
	}
	return nil
}

func (m *memoryRepo) Balances(_ context.Context, loc LocationRef) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Balance{}
	for k, v := range m.balances {
		if k.loc == loc && !v.Total.IsZero() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memoryRepo) Movements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Movement{}
	for _, mv := range m.movements {
		if mv.Location == filter.Location && mv.ItemID == filter.ItemID {
			out = append(out, mv)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetBalanceForUpdate(_ context.Context, loc LocationRef, itemID int64, status Status) (Balance, error) {
	bal, ok := t.repo.balances[memKey{loc, itemID, status}]
	if !ok {
		return Balance{Location: loc, ItemID: itemID, Status: status}, ErrBalanceNotFound
	}
	return bal, nil
}

func (t *memoryTx) UpsertBalance(_ context.Context, balance Balance) error {
	balance.UpdatedAt = time.Now()
	t.repo.balances[memKey{balance.Location, balance.ItemID, balance.Status}] = balance
	return nil
}

func (t *memoryTx) InsertMovement(_ context.Context, movement Movement) (int64, error) {
	movement.ID = int64(len(t.repo.movements) + 1)
	t.repo.movements = append(t.repo.movements, movement)
	return movement.ID, nil
}

func (t *memoryTx) InsertReservation(_ context.Context, res Reservation) error {
	res.CreatedAt = time.Now()
	t.repo.reservations[res.ID] = res
	return nil
}

func (t *memoryTx) GetReservationForUpdate(_ context.Context, id uuid.UUID) (Reservation, error) {
	res, ok := t.repo.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (t *memoryTx) MarkReservationReleased(_ context.Context, id uuid.UUID) error {
	res := t.repo.reservations[id]
	now := time.Now()
	res.ReleasedAt = &now
	t.repo.reservations[id] = res
	return nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seed(t *testing.T, svc *Service, loc LocationRef, itemID int64, qty, cost string) {
	t.Helper()
	_, err := svc.Adjust(context.Background(), AdjustInput{
		Location: loc, ItemID: itemID, Status: StatusOnHand,
		Delta: dec(qty), UnitCost: dec(cost), RefType: "seed",
	})
	require.NoError(t, err)
}

func TestAdjustRejectsNegativeTotal(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "5", "120000")

	_, err := svc.Adjust(context.Background(), AdjustInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Delta: dec("-6"),
	})
	require.ErrorIs(t, err, ErrNegativeStock)

	var nse *NegativeStockError
	require.ErrorAs(t, err, &nse)
	require.True(t, nse.Total.Equal(dec("5")))

	// Original balance untouched after the failed adjust.
	bal, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.Len(t, bal, 1)
	require.True(t, bal[0].Total.Equal(dec("5")))
}

func TestAdjustAllowNegativeForVarianceCapture(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	veh := Vehicle(7)
	seed(t, svc, veh, 10, "2", "120000")

	bal, err := svc.Adjust(context.Background(), AdjustInput{
		Location: veh, ItemID: 10, Status: StatusOnHand,
		Delta: dec("-3"), AllowNegative: true, RefType: "variance",
	})
	require.NoError(t, err)
	require.True(t, bal.Total.Equal(dec("-1")))
}

func TestAdjustWeightedAverageCost(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "10", "100")

	bal, err := svc.Adjust(context.Background(), AdjustInput{
		Location: wh, ItemID: 10, Status: StatusOnHand,
		Delta: dec("10"), UnitCost: dec("200"), RefType: "receipt",
	})
	require.NoError(t, err)
	require.True(t, bal.UnitCost.Equal(dec("150")), "got %s", bal.UnitCost)

	// Outbound keeps the average.
	bal, err = svc.Adjust(context.Background(), AdjustInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Delta: dec("-5"), RefType: "issue",
	})
	require.NoError(t, err)
	require.True(t, bal.UnitCost.Equal(dec("150")))
}

func TestReserveAndRelease(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "5", "120000")

	res, err := svc.Reserve(context.Background(), ReserveInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Qty: dec("3"),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.ID)

	// Available dropped to 2; a movement consuming 3 more must fail.
	_, err = svc.Adjust(context.Background(), AdjustInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Delta: dec("-3"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, svc.Release(context.Background(), res.ID))

	bal, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.True(t, bal[0].Reserved.IsZero())
	require.True(t, bal[0].Available().Equal(dec("5")))
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "5", "0")

	res, err := svc.Reserve(context.Background(), ReserveInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Qty: dec("2"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), res.ID))
	require.NoError(t, svc.Release(context.Background(), res.ID))

	bal, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.True(t, bal[0].Reserved.IsZero())
}

func TestReleaseUnknownReservation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	err := svc.Release(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "5", "0")

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveInput{
				Location: wh, ItemID: 10, Status: StatusOnHand, Qty: dec("3"),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, failed int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)

	bal, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.True(t, bal[0].Reserved.Equal(dec("3")))
	require.False(t, bal[0].Available().IsNegative())
}

func TestTransferLocationAllOrNothing(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	veh := Vehicle(3)
	seed(t, svc, wh, 10, "8", "100")

	require.NoError(t, svc.TransferLocation(context.Background(), TransferInput{
		From: wh, To: veh, ItemID: 10, Status: StatusOnHand, Qty: dec("5"), RefType: "truck_load",
	}))

	whBal, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.True(t, whBal[0].Total.Equal(dec("3")))

	vehBal, err := svc.Balances(context.Background(), veh)
	require.NoError(t, err)
	require.True(t, vehBal[0].Total.Equal(dec("5")))
	require.True(t, vehBal[0].UnitCost.Equal(dec("100")), "cost travels with stock")

	// Over-draw fails and leaves both sides untouched.
	err = svc.TransferLocation(context.Background(), TransferInput{
		From: wh, To: veh, ItemID: 10, Status: StatusOnHand, Qty: dec("4"),
	})
	require.ErrorIs(t, err, ErrNegativeStock)

	whBal, _ = svc.Balances(context.Background(), wh)
	require.True(t, whBal[0].Total.Equal(dec("3")))
}

func TestTransferRespectsReservations(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "5", "0")

	_, err := svc.Reserve(context.Background(), ReserveInput{
		Location: wh, ItemID: 10, Status: StatusOnHand, Qty: dec("4"),
	})
	require.NoError(t, err)

	err = svc.TransferLocation(context.Background(), TransferInput{
		From: wh, To: Vehicle(3), ItemID: 10, Status: StatusOnHand, Qty: dec("2"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestStatusTransfer(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	wh := Warehouse(1)
	seed(t, svc, wh, 10, "6", "90")

	require.NoError(t, svc.TransferStatus(context.Background(), StatusTransferInput{
		Location: wh, ItemID: 10, From: StatusOnHand, To: StatusQuarantine, Qty: dec("2"),
	}))

	bals, err := svc.Balances(context.Background(), wh)
	require.NoError(t, err)
	require.Len(t, bals, 2)

	byStatus := map[Status]Balance{}
	for _, b := range bals {
		byStatus[b.Status] = b
	}
	require.True(t, byStatus[StatusOnHand].Total.Equal(dec("4")))
	require.True(t, byStatus[StatusQuarantine].Total.Equal(dec("2")))
	require.True(t, byStatus[StatusQuarantine].UnitCost.Equal(dec("90")))
}

func TestReconcileCountJournalsVariance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	veh := Vehicle(7)
	seed(t, svc, veh, 10, "10", "100")

	variance, err := svc.ReconcileCount(context.Background(), ReconcileInput{
		Location: veh, ItemID: 10, Status: StatusOnHand, Counted: dec("8"), RefType: "truck_unload",
	})
	require.NoError(t, err)
	require.True(t, variance.Equal(dec("-2")))

	bals, err := svc.Balances(context.Background(), veh)
	require.NoError(t, err)
	require.True(t, bals[0].Total.Equal(dec("8")))

	moves, err := svc.Movements(context.Background(), MovementFilter{Location: veh, ItemID: 10})
	require.NoError(t, err)
	last := moves[len(moves)-1]
	require.True(t, last.Qty.Equal(dec("-2")), "variance is journaled, not dropped")
	require.Equal(t, "truck_unload", last.RefType)
}

func TestReconcileZeroVarianceWritesNothing(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	veh := Vehicle(7)
	seed(t, svc, veh, 10, "4", "0")

	before, err := svc.Movements(context.Background(), MovementFilter{Location: veh, ItemID: 10})
	require.NoError(t, err)

	variance, err := svc.ReconcileCount(context.Background(), ReconcileInput{
		Location: veh, ItemID: 10, Status: StatusOnHand, Counted: dec("4"),
	})
	require.NoError(t, err)
	require.True(t, variance.IsZero())

	after, err := svc.Movements(context.Background(), MovementFilter{Location: veh, ItemID: 10})
	require.NoError(t, err)
	require.Len(t, after, len(before))
}

func TestReconcileRejectsNegativeCount(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.ReconcileCount(context.Background(), ReconcileInput{
		Location: Vehicle(7), ItemID: 10, Status: StatusOnHand, Counted: dec("-1"),
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
