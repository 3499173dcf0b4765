package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates the condition buckets a balance can sit in. This is the
// single definition; the storage layer consumes it verbatim.
type Status string

const (
	// StatusOnHand is sellable warehouse stock.
	StatusOnHand Status = "ON_HAND"
	// StatusInTransit is stock that left its origin but has not arrived.
	StatusInTransit Status = "IN_TRANSIT"
	// StatusTruckStock is stock riding on a delivery vehicle.
	StatusTruckStock Status = "TRUCK_STOCK"
	// StatusQuarantine is stock blocked from sale.
	StatusQuarantine Status = "QUARANTINE"
)

// IsValid reports whether the status is a known bucket.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnHand, StatusInTransit, StatusTruckStock, StatusQuarantine:
		return true
	default:
		return false
	}
}

// LocationKind distinguishes fixed warehouses from vehicles acting as
// mobile warehouses. Both satisfy the same balance-key contract, so nothing
// below this type branches on the kind.
type LocationKind string

const (
	// LocationWarehouse is a fixed storage site.
	LocationWarehouse LocationKind = "WAREHOUSE"
	// LocationVehicle is a delivery vehicle holding truck stock.
	LocationVehicle LocationKind = "VEHICLE"
)

// LocationRef identifies any place inventory can sit.
type LocationRef struct {
	Kind LocationKind `json:"kind"`
	ID   int64        `json:"id"`
}

// Warehouse builds a warehouse location reference.
func Warehouse(id int64) LocationRef { return LocationRef{Kind: LocationWarehouse, ID: id} }

// Vehicle builds a vehicle location reference.
func Vehicle(id int64) LocationRef { return LocationRef{Kind: LocationVehicle, ID: id} }

// IsZero reports whether the reference is unset.
func (l LocationRef) IsZero() bool { return l.Kind == "" && l.ID == 0 }

func (l LocationRef) String() string { return fmt.Sprintf("%s:%d", l.Kind, l.ID) }

// Balance is one (location, item, status) stock record. Total and Reserved
// are only ever mutated through the service operations; Available is always
// derived.
type Balance struct {
	Location  LocationRef
	ItemID    int64
	Status    Status
	Total     decimal.Decimal
	Reserved  decimal.Decimal
	UnitCost  decimal.Decimal
	UpdatedAt time.Time
}

// Available returns total minus reserved.
func (b Balance) Available() decimal.Decimal {
	return b.Total.Sub(b.Reserved)
}

// Movement is one signed journal row; every balance mutation writes exactly
// one per affected balance inside the same transaction.
type Movement struct {
	ID       int64
	Location LocationRef
	ItemID   int64
	Status   Status
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	RefType  string
	RefID    string
	Note     string
	ActorID  int64
	PostedAt time.Time
}

// Reservation is the handle returned by Reserve. Releases are idempotent
// against the handle, not against a bare quantity.
type Reservation struct {
	ID         uuid.UUID
	Location   LocationRef
	ItemID     int64
	Status     Status
	Qty        decimal.Decimal
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// AdjustInput mutates total by Delta at one balance key.
type AdjustInput struct {
	Location LocationRef
	ItemID   int64
	Status   Status
	Delta    decimal.Decimal
	UnitCost decimal.Decimal
	// AllowNegative permits a controlled dip below zero, e.g. truck
	// variance capture. Left false for every normal movement.
	AllowNegative bool
	RefType       string
	RefID         string
	Note          string
	ActorID       int64
}

// ReserveInput earmarks available stock at one balance key.
type ReserveInput struct {
	Location LocationRef
	ItemID   int64
	Status   Status
	Qty      decimal.Decimal
	RefType  string
	RefID    string
	ActorID  int64
}

// TransferInput moves stock between two locations in one status bucket.
type TransferInput struct {
	From     LocationRef
	To       LocationRef
	ItemID   int64
	Status   Status
	Qty      decimal.Decimal
	RefType  string
	RefID    string
	Note     string
	ActorID  int64
}

// StatusTransferInput moves stock between status buckets at one location.
type StatusTransferInput struct {
	Location LocationRef
	ItemID   int64
	From     Status
	To       Status
	Qty      decimal.Decimal
	RefType  string
	RefID    string
	Note     string
	ActorID  int64
}

// ReconcileInput replaces a balance total with a physical count.
type ReconcileInput struct {
	Location LocationRef
	ItemID   int64
	Status   Status
	Counted  decimal.Decimal
	RefType  string
	RefID    string
	Note     string
	ActorID  int64
}

var (
	// ErrNegativeStock triggered when a movement would drive total below zero.
	ErrNegativeStock = errors.New("ledger: negative stock not allowed")
	// ErrInsufficientStock triggered when a reservation exceeds available.
	ErrInsufficientStock = errors.New("ledger: insufficient available stock")
	// ErrInvalidQuantity indicates a zero or negative quantity where forbidden.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidStatus indicates an unknown condition bucket.
	ErrInvalidStatus = errors.New("ledger: invalid status bucket")
	// ErrReservationNotFound indicates an unknown reservation handle.
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
)

// InsufficientStockError carries enough context for the caller to render an
// actionable message without re-deriving it.
type InsufficientStockError struct {
	Location  LocationRef
	ItemID    int64
	Status    Status
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock at %s item=%d status=%s requested=%s available=%s",
		e.Location, e.ItemID, e.Status, e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NegativeStockError reports the violating balance key and quantities.
type NegativeStockError struct {
	Location LocationRef
	ItemID   int64
	Status   Status
	Delta    decimal.Decimal
	Total    decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("ledger: movement of %s would drive %s item=%d status=%s below zero (total=%s)",
		e.Delta, e.Location, e.ItemID, e.Status, e.Total)
}

// Unwrap lets errors.Is match ErrNegativeStock.
func (e *NegativeStockError) Unwrap() error { return ErrNegativeStock }
