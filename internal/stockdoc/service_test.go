package stockdoc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/ledger"
)

type balKey struct {
	loc    ledger.LocationRef
	itemID int64
	status ledger.Status
}

type seqKey struct {
	docType Type
	period  string
}

// memStore fakes both the document store and the shared-transaction ledger.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	docs     map[int64]Document
	seqs     map[seqKey]int64
	balances map[balKey]ledger.Balance
}

func newMemStore() *memStore {
	return &memStore{
		docs:     map[int64]Document{},
		seqs:     map[seqKey]int64{},
		balances: map[balKey]ledger.Balance{},
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docSnap := make(map[int64]Document, len(m.docs))
	for k, v := range m.docs {
		docSnap[k] = v
	}
	balSnap := make(map[balKey]ledger.Balance, len(m.balances))
	for k, v := range m.balances {
		balSnap[k] = v
	}
	if err := fn(ctx, &memTx{store: m}); err != nil {
		m.docs = docSnap
		m.balances = balSnap
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (m *memStore) List(_ context.Context, filter ListFilter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Document{}
	for _, doc := range m.docs {
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.RefID != "" && doc.RefID != filter.RefID {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *memStore) balance(loc ledger.LocationRef, itemID int64, status ledger.Status) ledger.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balKey{loc, itemID, status}]
}

type memTx struct {
	store *memStore
}

func (t *memTx) NextNumber(_ context.Context, docType Type, p string) (int64, error) {
	key := seqKey{docType, p}
	t.store.seqs[key]++
	return t.store.seqs[key], nil
}

func (t *memTx) InsertDocument(_ context.Context, doc Document) (int64, error) {
	t.store.nextID++
	doc.ID = t.store.nextID
	t.store.docs[doc.ID] = doc
	return doc.ID, nil
}

func (t *memTx) InsertLines(_ context.Context, docID int64, lines []Line) error {
	doc := t.store.docs[docID]
	doc.Lines = lines
	t.store.docs[docID] = doc
	return nil
}

func (t *memTx) GetDocumentForUpdate(_ context.Context, id int64) (Document, error) {
	doc, ok := t.store.docs[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (t *memTx) UpdateDocumentStatus(_ context.Context, doc Document) error {
	stored := t.store.docs[doc.ID]
	stored.Status = doc.Status
	stored.Reason = doc.Reason
	stored.ShippedAt = doc.ShippedAt
	stored.PostedAt = doc.PostedAt
	stored.CancelledAt = doc.CancelledAt
	stored.UpdatedBy = doc.UpdatedBy
	t.store.docs[doc.ID] = stored
	return nil
}

func (t *memTx) Ledger() ledger.TxRepository { return &memLedgerTx{store: t.store} }

type memLedgerTx struct {
	store *memStore
}

func (t *memLedgerTx) GetBalanceForUpdate(_ context.Context, loc ledger.LocationRef, itemID int64, status ledger.Status) (ledger.Balance, error) {
	bal, ok := t.store.balances[balKey{loc, itemID, status}]
	if !ok {
		return ledger.Balance{Location: loc, ItemID: itemID, Status: status}, ledger.ErrBalanceNotFound
	}
	return bal, nil
}

func (t *memLedgerTx) UpsertBalance(_ context.Context, balance ledger.Balance) error {
	balance.UpdatedAt = time.Now()
	t.store.balances[balKey{balance.Location, balance.ItemID, balance.Status}] = balance
	return nil
}

func (t *memLedgerTx) InsertMovement(_ context.Context, _ ledger.Movement) (int64, error) {
	return 1, nil
}

func (t *memLedgerTx) InsertReservation(_ context.Context, _ ledger.Reservation) error { return nil }

func (t *memLedgerTx) GetReservationForUpdate(_ context.Context, _ uuid.UUID) (ledger.Reservation, error) {
	return ledger.Reservation{}, ledger.ErrReservationNotFound
}

func (t *memLedgerTx) MarkReservationReleased(_ context.Context, _ uuid.UUID) error { return nil }

type capturedEvents struct {
	posted    []DocumentPostedEvent
	cancelled []DocumentCancelledEvent
}

func (c *capturedEvents) DocumentPosted(_ context.Context, e DocumentPostedEvent) {
	c.posted = append(c.posted, e)
}

func (c *capturedEvents) DocumentCancelled(_ context.Context, e DocumentCancelledEvent) {
	c.cancelled = append(c.cancelled, e)
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seedBalance(store *memStore, loc ledger.LocationRef, itemID int64, status ledger.Status, qty, cost string) {
	store.balances[balKey{loc, itemID, status}] = ledger.Balance{
		Location: loc, ItemID: itemID, Status: status,
		Total: dec(qty), UnitCost: dec(cost),
	}
}

func TestCreateAllocatesSequentialNumbers(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	input := CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	}
	first, err := svc.Create(ctx, input)
	require.NoError(t, err)
	second, err := svc.Create(ctx, input)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(first.Number, "TRF/"))
	require.True(t, strings.HasSuffix(first.Number, "00001"))
	require.True(t, strings.HasSuffix(second.Number, "00002"))
	require.Equal(t, StatusOpen, first.Status)
}

func TestCreateRejectsInvalidDocuments(t *testing.T) {
	svc := NewService(newMemStore(), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Type: TypeTransfer, Source: ledger.Warehouse(1), Destination: ledger.Warehouse(2)})
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = svc.Create(ctx, CreateInput{
		Type: TypeTruckLoad, Source: ledger.Warehouse(1), Destination: ledger.Warehouse(2),
		Lines: []Line{{ItemID: 10, Qty: dec("1")}},
	})
	require.Error(t, err, "truck load destination must be a vehicle")

	_, err = svc.Create(ctx, CreateInput{
		Type: TypeTransfer, Source: ledger.Warehouse(1), Destination: ledger.Warehouse(2),
		Lines: []Line{{ItemID: 10, Qty: dec("-1")}},
	})
	require.Error(t, err)
}

func TestDirectPostTransfer(t *testing.T) {
	store := newMemStore()
	events := &capturedEvents{}
	svc := NewService(store, events, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "8", "100")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	})
	require.NoError(t, err)

	posted, err := svc.Post(ctx, doc.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)

	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("3")))
	require.True(t, store.balance(ledger.Warehouse(2), 10, ledger.StatusOnHand).Total.Equal(dec("5")))

	require.Len(t, events.posted, 1)
	require.Equal(t, posted.Number, events.posted[0].Number)
}

func TestDoublePostRejected(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "8", "0")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, doc.ID, 1)
	require.NoError(t, err)

	_, err = svc.Post(ctx, doc.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// The first post's effect stands exactly once.
	require.True(t, store.balance(ledger.Warehouse(2), 10, ledger.StatusOnHand).Total.Equal(dec("5")))
}

func TestShipThenPost(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "8", "100")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	})
	require.NoError(t, err)

	shipped, err := svc.Ship(ctx, doc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)

	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("3")))
	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusInTransit).Total.Equal(dec("5")))

	_, err = svc.Post(ctx, doc.ID, 1)
	require.NoError(t, err)

	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusInTransit).Total.IsZero())
	require.True(t, store.balance(ledger.Warehouse(2), 10, ledger.StatusOnHand).Total.Equal(dec("5")))
}

func TestShipOnlyForTravellingTypes(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{
		Type:   TypeAdjustment,
		Source: ledger.Warehouse(1),
		Lines:  []Line{{ItemID: 10, Qty: dec("1")}},
	})
	require.NoError(t, err)

	_, err = svc.Ship(ctx, doc.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelShippedCompensates(t *testing.T) {
	store := newMemStore()
	events := &capturedEvents{}
	svc := NewService(store, events, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "8", "100")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, err = svc.Ship(ctx, doc.ID, 1)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, doc.ID, 1, "")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, ReasonShipmentCancelled, cancelled.Reason)

	// Source restored; nothing ever arrived at the destination.
	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("8")))
	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusInTransit).Total.IsZero())
	require.True(t, store.balance(ledger.Warehouse(2), 10, ledger.StatusOnHand).Total.IsZero())

	require.Len(t, events.cancelled, 1)
	require.True(t, events.cancelled[0].Compensated)
}

func TestCancelPostedRejected(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "8", "0")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("2")}},
	})
	require.NoError(t, err)
	_, err = svc.Post(ctx, doc.ID, 1)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, doc.ID, 1, "oops")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPostFailureLeavesDocumentOpen(t *testing.T) {
	store := newMemStore()
	events := &capturedEvents{}
	svc := NewService(store, events, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "3", "0")

	doc, err := svc.Create(ctx, CreateInput{
		Type:        TypeTransfer,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Warehouse(2),
		Lines:       []Line{{ItemID: 10, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, doc.ID, 1)
	require.ErrorIs(t, err, ledger.ErrNegativeStock)

	// Ledger and document state both rolled back as one unit.
	stored, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, stored.Status)
	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("3")))
	require.Empty(t, events.posted)
}

func TestConversionPreservesValue(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	// 10 empties at 50 each become 10 fulls.
	seedBalance(store, ledger.Warehouse(1), 11, ledger.StatusOnHand, "10", "50")

	doc, err := svc.Create(ctx, CreateInput{
		Type:   TypeConversion,
		Source: ledger.Warehouse(1),
		Lines:  []Line{{ItemID: 11, Qty: dec("10"), ConvertToItemID: 10, Ratio: dec("1")}},
	})
	require.NoError(t, err)
	_, err = svc.Post(ctx, doc.ID, 1)
	require.NoError(t, err)

	require.True(t, store.balance(ledger.Warehouse(1), 11, ledger.StatusOnHand).Total.IsZero())
	full := store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand)
	require.True(t, full.Total.Equal(dec("10")))
	require.True(t, full.UnitCost.Equal(dec("50")))
}

func TestTruckLoadCreatePosted(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Warehouse(1), 10, ledger.StatusOnHand, "20", "100")

	doc, err := svc.CreatePosted(ctx, CreateInput{
		Type:        TypeTruckLoad,
		Source:      ledger.Warehouse(1),
		Destination: ledger.Vehicle(7),
		Lines:       []Line{{ItemID: 10, Qty: dec("10")}},
		RefType:     "trip",
		RefID:       "5",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, doc.Status)

	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("10")))
	require.True(t, store.balance(ledger.Vehicle(7), 10, ledger.StatusTruckStock).Total.Equal(dec("10")))
}

func TestTruckUnloadTemplate(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Vehicle(7), 10, ledger.StatusTruckStock, "2", "100")

	doc, err := svc.CreatePosted(ctx, CreateInput{
		Type:        TypeTruckUnload,
		Source:      ledger.Vehicle(7),
		Destination: ledger.Warehouse(1),
		Lines:       []Line{{ItemID: 10, Qty: dec("2")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, doc.Status)

	require.True(t, store.balance(ledger.Vehicle(7), 10, ledger.StatusTruckStock).Total.IsZero())
	require.True(t, store.balance(ledger.Warehouse(1), 10, ledger.StatusOnHand).Total.Equal(dec("2")))
}

func TestAdjustmentTargetsBucket(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	seedBalance(store, ledger.Vehicle(7), 10, ledger.StatusTruckStock, "3", "100")

	doc, err := svc.CreatePosted(ctx, CreateInput{
		Type:   TypeAdjustment,
		Source: ledger.Vehicle(7),
		Reason: ReasonVarianceShortage,
		Lines:  []Line{{ItemID: 10, Qty: dec("-1"), Bucket: ledger.StatusTruckStock}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, doc.Status)
	require.True(t, store.balance(ledger.Vehicle(7), 10, ledger.StatusTruckStock).Total.Equal(dec("2")))
}
