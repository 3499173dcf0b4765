package fleet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Vehicle is a delivery truck. It doubles as a stock location; the ledger
// addresses it as LocationRef{Kind: VEHICLE, ID}.
type Vehicle struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	PlateNumber    string          `json:"plate_number"`
	CapacityWeight decimal.Decimal `json:"capacity_weight"`
	// CapacityVolume zero means volume is not tracked for this vehicle.
	CapacityVolume decimal.Decimal `json:"capacity_volume"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TripStatus is the trip lifecycle state.
type TripStatus string

const (
	// TripDraft is a trip being put together.
	TripDraft TripStatus = "DRAFT"
	// TripPlanned has its orders and quantities fixed.
	TripPlanned TripStatus = "PLANNED"
	// TripLoaded has a posted truck-load document.
	TripLoaded TripStatus = "LOADED"
	// TripInProgress is out delivering.
	TripInProgress TripStatus = "IN_PROGRESS"
	// TripCompleted has a posted truck-unload document. Terminal.
	TripCompleted TripStatus = "COMPLETED"
	// TripCancelled is terminal; a loaded trip is force-unloaded first.
	TripCancelled TripStatus = "CANCELLED"
)

// CanTransition reports whether the status may move to next. Every stage
// gates on the prior stage; jumps are rejected.
func (s TripStatus) CanTransition(next TripStatus) bool {
	if next == TripCancelled {
		return s != TripCompleted && s != TripCancelled
	}
	switch s {
	case TripDraft:
		return next == TripPlanned
	case TripPlanned:
		return next == TripLoaded
	case TripLoaded:
		return next == TripInProgress
	case TripInProgress:
		return next == TripCompleted
	default:
		return false
	}
}

// Trip is one delivery run by one vehicle out of one origin warehouse.
type Trip struct {
	ID                int64      `json:"id"`
	VehicleID         int64      `json:"vehicle_id"`
	OriginWarehouseID int64      `json:"origin_warehouse_id"`
	DriverID          int64      `json:"driver_id,omitempty"`
	Status            TripStatus `json:"status"`
	Note              string     `json:"note,omitempty"`
	OrderIDs          []int64    `json:"order_ids,omitempty"`
	Items             []TripItem `json:"items,omitempty"`
	LoadDocumentID    int64      `json:"load_document_id,omitempty"`
	UnloadDocumentID  int64      `json:"unload_document_id,omitempty"`
	CreatedBy         int64      `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PlannedAt         *time.Time `json:"planned_at,omitempty"`
	LoadedAt          *time.Time `json:"loaded_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

// TripItem is the per-(trip, item) inventory record. Loaded is written at
// load time, Delivered and EmptiesCollected accrue per delivery, and the
// unload reconciliation reads ExpectedOnTruck without mutating the record.
type TripItem struct {
	TripID           int64           `json:"trip_id"`
	ItemID           int64           `json:"item_id"`
	Planned          decimal.Decimal `json:"planned"`
	Loaded           decimal.Decimal `json:"loaded"`
	Delivered        decimal.Decimal `json:"delivered"`
	EmptiesExpected  decimal.Decimal `json:"empties_expected"`
	EmptiesCollected decimal.Decimal `json:"empties_collected"`
}

// ExpectedOnTruck is what unload reconciliation expects to count for this
// item: what was loaded, minus what was handed over, plus empties taken in.
func (i TripItem) ExpectedOnTruck() decimal.Decimal {
	return i.Loaded.Sub(i.Delivered).Add(i.EmptiesCollected)
}

// LoadItem is one requested line for a truck load.
type LoadItem struct {
	ItemID int64           `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
}

// CountItem is one physically counted line at unload.
type CountItem struct {
	ItemID int64           `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
}

// CapacityReport describes vehicle utilization for a prospective load.
type CapacityReport struct {
	WeightCapacity decimal.Decimal `json:"weight_capacity"`
	WeightUsed     decimal.Decimal `json:"weight_used"`
	WeightPct      decimal.Decimal `json:"weight_pct"`
	VolumeCapacity decimal.Decimal `json:"volume_capacity"`
	VolumeUsed     decimal.Decimal `json:"volume_used"`
	VolumePct      decimal.Decimal `json:"volume_pct"`
	Warnings       []string        `json:"warnings,omitempty"`
}

var (
	// ErrVehicleNotFound indicates an unknown vehicle id.
	ErrVehicleNotFound = errors.New("fleet: vehicle not found")
	// ErrTripNotFound indicates an unknown trip id.
	ErrTripNotFound = errors.New("fleet: trip not found")
	// ErrInvalidTransition indicates a trip lifecycle jump.
	ErrInvalidTransition = errors.New("fleet: invalid trip transition")
	// ErrCapacityExceeded indicates a load exceeding vehicle capacity.
	ErrCapacityExceeded = errors.New("fleet: vehicle capacity exceeded")
	// ErrOrderNotEligible indicates an order failing the planning gate.
	ErrOrderNotEligible = errors.New("fleet: order not eligible for trip")
	// ErrNothingToLoad indicates an empty load request.
	ErrNothingToLoad = errors.New("fleet: nothing to load")
)

// CapacityError carries the utilization report alongside the sentinel so
// callers can show what would not fit instead of a bare refusal.
type CapacityError struct {
	VehicleCode string
	Report      CapacityReport
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("fleet: load exceeds capacity of %s (weight %s/%s, volume %s/%s)",
		e.VehicleCode, e.Report.WeightUsed, e.Report.WeightCapacity, e.Report.VolumeUsed, e.Report.VolumeCapacity)
}

// Unwrap lets errors.Is match ErrCapacityExceeded.
func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// TransitionError reports the rejected jump.
type TransitionError struct {
	TripID int64
	From   TripStatus
	To     TripStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("fleet: trip %d cannot move %s -> %s", e.TripID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
