package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Balances(ctx context.Context, loc LocationRef) ([]Balance, error)
	Movements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates balance mutations. Every mutating call runs inside a
// single transaction holding a row lock on each touched balance, so two
// concurrent callers can never both consume the same available stock.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Adjust mutates a balance total by a signed delta.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Balance, error) {
	var result Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := ApplyAdjust(ctx, tx, input)
		if err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.record(ctx, input.ActorID, "ledger:adjust", input.Location, input.ItemID, map[string]any{
		"status": input.Status, "delta": input.Delta.String(),
	})
	return result, nil
}

// Reserve earmarks available stock and returns the reservation handle.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	var result Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := ApplyReserve(ctx, tx, input)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.record(ctx, input.ActorID, "ledger:reserve", input.Location, input.ItemID, map[string]any{
		"status": input.Status, "qty": input.Qty.String(), "reservation_id": result.ID.String(),
	})
	return result, nil
}

// Release frees a reservation. Releasing the same handle twice is a no-op.
func (s *Service) Release(ctx context.Context, reservationID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return ApplyRelease(ctx, tx, reservationID)
	})
}

// TransferLocation moves stock between two locations in one status bucket,
// all or nothing.
func (s *Service) TransferLocation(ctx context.Context, input TransferInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, _, err := ApplyTransfer(ctx, tx, input)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "ledger:transfer", input.From, input.ItemID, map[string]any{
		"to": input.To.String(), "status": input.Status, "qty": input.Qty.String(),
	})
	return nil
}

// TransferStatus moves stock between status buckets at one location.
func (s *Service) TransferStatus(ctx context.Context, input StatusTransferInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, _, err := ApplyStatusTransfer(ctx, tx, input)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "ledger:status_transfer", input.Location, input.ItemID, map[string]any{
		"from_status": input.From, "to_status": input.To, "qty": input.Qty.String(),
	})
	return nil
}

// ReconcileCount brings a balance total to a physical count and returns the
// variance. The variance is always journaled, never silently dropped.
func (s *Service) ReconcileCount(ctx context.Context, input ReconcileInput) (decimal.Decimal, error) {
	var variance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := ApplyReconcile(ctx, tx, input)
		if err != nil {
			return err
		}
		variance = v
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	s.record(ctx, input.ActorID, "ledger:reconcile", input.Location, input.ItemID, map[string]any{
		"status": input.Status, "counted": input.Counted.String(), "variance": variance.String(),
	})
	return variance, nil
}

// Balances lists balances at a location through the transactional read path.
func (s *Service) Balances(ctx context.Context, loc LocationRef) ([]Balance, error) {
	return s.repo.Balances(ctx, loc)
}

// Movements lists the movement journal.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.Movements(ctx, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, loc LocationRef, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["location"] = loc.String()
	meta["item_id"] = itemID
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_balance",
		EntityID: fmt.Sprintf("%s:%d", loc, itemID),
		Meta:     meta,
	})
}

// ApplyAdjust performs the adjust mutation against an open transaction. The
// stock document engine calls these Apply functions inside the document
// transaction so ledger and document commit together.
func ApplyAdjust(ctx context.Context, tx TxRepository, in AdjustInput) (Balance, error) {
	if !in.Status.IsValid() {
		return Balance{}, ErrInvalidStatus
	}
	if in.Delta.IsZero() {
		return Balance{}, fmt.Errorf("%w: delta must be non zero", ErrInvalidQuantity)
	}
	bal, err := lockOrInitBalance(ctx, tx, in.Location, in.ItemID, in.Status)
	if err != nil {
		return Balance{}, err
	}
	newTotal := bal.Total.Add(in.Delta)
	if !in.AllowNegative {
		if newTotal.IsNegative() {
			return Balance{}, &NegativeStockError{Location: in.Location, ItemID: in.ItemID, Status: in.Status, Delta: in.Delta, Total: bal.Total}
		}
		if newTotal.LessThan(bal.Reserved) {
			return Balance{}, &InsufficientStockError{Location: in.Location, ItemID: in.ItemID, Status: in.Status, Requested: in.Delta.Abs(), Available: bal.Available()}
		}
	}
	movementCost := bal.UnitCost
	if in.Delta.IsPositive() {
		movementCost = in.UnitCost
		bal.UnitCost = weightedAverage(bal.Total, bal.UnitCost, in.Delta, in.UnitCost)
	} else if newTotal.IsZero() || newTotal.IsNegative() {
		bal.UnitCost = decimal.Zero
	}
	bal.Total = newTotal
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return Balance{}, err
	}
	if _, err := tx.InsertMovement(ctx, Movement{
		Location: in.Location,
		ItemID:   in.ItemID,
		Status:   in.Status,
		Qty:      in.Delta,
		UnitCost: movementCost,
		RefType:  in.RefType,
		RefID:    in.RefID,
		Note:     in.Note,
		ActorID:  in.ActorID,
		PostedAt: time.Now().UTC(),
	}); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// ApplyReserve performs the reserve mutation against an open transaction.
func ApplyReserve(ctx context.Context, tx TxRepository, in ReserveInput) (Reservation, error) {
	if !in.Status.IsValid() {
		return Reservation{}, ErrInvalidStatus
	}
	if !in.Qty.IsPositive() {
		return Reservation{}, ErrInvalidQuantity
	}
	bal, err := lockOrInitBalance(ctx, tx, in.Location, in.ItemID, in.Status)
	if err != nil {
		return Reservation{}, err
	}
	if bal.Available().LessThan(in.Qty) {
		return Reservation{}, &InsufficientStockError{Location: in.Location, ItemID: in.ItemID, Status: in.Status, Requested: in.Qty, Available: bal.Available()}
	}
	bal.Reserved = bal.Reserved.Add(in.Qty)
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return Reservation{}, err
	}
	res := Reservation{
		ID:       uuid.New(),
		Location: in.Location,
		ItemID:   in.ItemID,
		Status:   in.Status,
		Qty:      in.Qty,
	}
	if err := tx.InsertReservation(ctx, res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// ApplyRelease frees a reservation inside an open transaction. Idempotent
// against double release via the handle's released marker.
func ApplyRelease(ctx context.Context, tx TxRepository, reservationID uuid.UUID) error {
	res, err := tx.GetReservationForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.ReleasedAt != nil {
		return nil
	}
	bal, err := lockOrInitBalance(ctx, tx, res.Location, res.ItemID, res.Status)
	if err != nil {
		return err
	}
	bal.Reserved = decimal.Max(decimal.Zero, bal.Reserved.Sub(res.Qty))
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return err
	}
	return tx.MarkReservationReleased(ctx, reservationID)
}

// ApplyTransfer moves stock between two locations in one status bucket.
// Balances are locked in a deterministic order to avoid deadlocks between
// opposing transfers.
func ApplyTransfer(ctx context.Context, tx TxRepository, in TransferInput) (Balance, Balance, error) {
	if !in.Status.IsValid() {
		return Balance{}, Balance{}, ErrInvalidStatus
	}
	if !in.Qty.IsPositive() {
		return Balance{}, Balance{}, ErrInvalidQuantity
	}
	if in.From == in.To {
		return Balance{}, Balance{}, errors.New("ledger: source and destination must differ")
	}
	src, dst, err := lockPair(ctx, tx,
		balanceKey{in.From, in.ItemID, in.Status},
		balanceKey{in.To, in.ItemID, in.Status})
	if err != nil {
		return Balance{}, Balance{}, err
	}
	newSrcTotal := src.Total.Sub(in.Qty)
	if newSrcTotal.IsNegative() {
		return Balance{}, Balance{}, &NegativeStockError{Location: in.From, ItemID: in.ItemID, Status: in.Status, Delta: in.Qty.Neg(), Total: src.Total}
	}
	if newSrcTotal.LessThan(src.Reserved) {
		return Balance{}, Balance{}, &InsufficientStockError{Location: in.From, ItemID: in.ItemID, Status: in.Status, Requested: in.Qty, Available: src.Available()}
	}
	cost := src.UnitCost
	src.Total = newSrcTotal
	if src.Total.IsZero() {
		src.UnitCost = decimal.Zero
	}
	dst.UnitCost = weightedAverage(dst.Total, dst.UnitCost, in.Qty, cost)
	dst.Total = dst.Total.Add(in.Qty)

	now := time.Now().UTC()
	if err := tx.UpsertBalance(ctx, src); err != nil {
		return Balance{}, Balance{}, err
	}
	if err := tx.UpsertBalance(ctx, dst); err != nil {
		return Balance{}, Balance{}, err
	}
	outMove := Movement{Location: in.From, ItemID: in.ItemID, Status: in.Status, Qty: in.Qty.Neg(), UnitCost: cost, RefType: in.RefType, RefID: in.RefID, Note: in.Note, ActorID: in.ActorID, PostedAt: now}
	inMove := Movement{Location: in.To, ItemID: in.ItemID, Status: in.Status, Qty: in.Qty, UnitCost: cost, RefType: in.RefType, RefID: in.RefID, Note: in.Note, ActorID: in.ActorID, PostedAt: now}
	if _, err := tx.InsertMovement(ctx, outMove); err != nil {
		return Balance{}, Balance{}, err
	}
	if _, err := tx.InsertMovement(ctx, inMove); err != nil {
		return Balance{}, Balance{}, err
	}
	return src, dst, nil
}

// ApplyStatusTransfer moves stock between status buckets at one location.
func ApplyStatusTransfer(ctx context.Context, tx TxRepository, in StatusTransferInput) (Balance, Balance, error) {
	if !in.From.IsValid() || !in.To.IsValid() {
		return Balance{}, Balance{}, ErrInvalidStatus
	}
	if in.From == in.To {
		return Balance{}, Balance{}, errors.New("ledger: status buckets must differ")
	}
	if !in.Qty.IsPositive() {
		return Balance{}, Balance{}, ErrInvalidQuantity
	}
	src, dst, err := lockPair(ctx, tx,
		balanceKey{in.Location, in.ItemID, in.From},
		balanceKey{in.Location, in.ItemID, in.To})
	if err != nil {
		return Balance{}, Balance{}, err
	}
	newSrcTotal := src.Total.Sub(in.Qty)
	if newSrcTotal.IsNegative() {
		return Balance{}, Balance{}, &NegativeStockError{Location: in.Location, ItemID: in.ItemID, Status: in.From, Delta: in.Qty.Neg(), Total: src.Total}
	}
	if newSrcTotal.LessThan(src.Reserved) {
		return Balance{}, Balance{}, &InsufficientStockError{Location: in.Location, ItemID: in.ItemID, Status: in.From, Requested: in.Qty, Available: src.Available()}
	}
	cost := src.UnitCost
	src.Total = newSrcTotal
	if src.Total.IsZero() {
		src.UnitCost = decimal.Zero
	}
	dst.UnitCost = weightedAverage(dst.Total, dst.UnitCost, in.Qty, cost)
	dst.Total = dst.Total.Add(in.Qty)

	now := time.Now().UTC()
	if err := tx.UpsertBalance(ctx, src); err != nil {
		return Balance{}, Balance{}, err
	}
	if err := tx.UpsertBalance(ctx, dst); err != nil {
		return Balance{}, Balance{}, err
	}
	if _, err := tx.InsertMovement(ctx, Movement{Location: in.Location, ItemID: in.ItemID, Status: in.From, Qty: in.Qty.Neg(), UnitCost: cost, RefType: in.RefType, RefID: in.RefID, Note: in.Note, ActorID: in.ActorID, PostedAt: now}); err != nil {
		return Balance{}, Balance{}, err
	}
	if _, err := tx.InsertMovement(ctx, Movement{Location: in.Location, ItemID: in.ItemID, Status: in.To, Qty: in.Qty, UnitCost: cost, RefType: in.RefType, RefID: in.RefID, Note: in.Note, ActorID: in.ActorID, PostedAt: now}); err != nil {
		return Balance{}, Balance{}, err
	}
	return src, dst, nil
}

// ApplyReconcile replaces a balance total with the physical count and
// journals the variance.
func ApplyReconcile(ctx context.Context, tx TxRepository, in ReconcileInput) (decimal.Decimal, error) {
	if !in.Status.IsValid() {
		return decimal.Zero, ErrInvalidStatus
	}
	if in.Counted.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: counted quantity must not be negative", ErrInvalidQuantity)
	}
	bal, err := lockOrInitBalance(ctx, tx, in.Location, in.ItemID, in.Status)
	if err != nil {
		return decimal.Zero, err
	}
	variance := in.Counted.Sub(bal.Total)
	if variance.IsZero() {
		return decimal.Zero, nil
	}
	bal.Total = in.Counted
	if bal.Total.IsZero() {
		bal.UnitCost = decimal.Zero
	}
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return decimal.Zero, err
	}
	refType := in.RefType
	if refType == "" {
		refType = "reconcile"
	}
	if _, err := tx.InsertMovement(ctx, Movement{
		Location: in.Location,
		ItemID:   in.ItemID,
		Status:   in.Status,
		Qty:      variance,
		UnitCost: bal.UnitCost,
		RefType:  refType,
		RefID:    in.RefID,
		Note:     in.Note,
		ActorID:  in.ActorID,
		PostedAt: time.Now().UTC(),
	}); err != nil {
		return decimal.Zero, err
	}
	return variance, nil
}

type balanceKey struct {
	loc    LocationRef
	itemID int64
	status Status
}

func (k balanceKey) less(other balanceKey) bool {
	if k.loc.Kind != other.loc.Kind {
		return k.loc.Kind < other.loc.Kind
	}
	if k.loc.ID != other.loc.ID {
		return k.loc.ID < other.loc.ID
	}
	if k.itemID != other.itemID {
		return k.itemID < other.itemID
	}
	return k.status < other.status
}

// lockPair acquires both balance rows in a stable global order.
func lockPair(ctx context.Context, tx TxRepository, first, second balanceKey) (Balance, Balance, error) {
	a, b := first, second
	swapped := false
	if b.less(a) {
		a, b = b, a
		swapped = true
	}
	balA, err := lockOrInitBalance(ctx, tx, a.loc, a.itemID, a.status)
	if err != nil {
		return Balance{}, Balance{}, err
	}
	balB, err := lockOrInitBalance(ctx, tx, b.loc, b.itemID, b.status)
	if err != nil {
		return Balance{}, Balance{}, err
	}
	if swapped {
		return balB, balA, nil
	}
	return balA, balB, nil
}

func lockOrInitBalance(ctx context.Context, tx TxRepository, loc LocationRef, itemID int64, status Status) (Balance, error) {
	bal, err := tx.GetBalanceForUpdate(ctx, loc, itemID, status)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Balance{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		bal = Balance{Location: loc, ItemID: itemID, Status: status}
	}
	return bal, nil
}

func weightedAverage(oldQty, oldCost, addQty, addCost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(addQty)
	if !newQty.IsPositive() {
		return decimal.Zero
	}
	total := oldQty.Mul(oldCost).Add(addQty.Mul(addCost))
	return total.DivRound(newQty, 6)
}
