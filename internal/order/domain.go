package order

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ComponentType tags each decomposed line with its financial role.
type ComponentType string

const (
	// ComponentPhysical moves a cylinder or other hard asset.
	ComponentPhysical ComponentType = "PHYSICAL"
	// ComponentGasService is the refill revenue line, never inventory.
	ComponentGasService ComponentType = "GAS_SERVICE"
	// ComponentDepositAdjustment charges deposit for unreturned cylinders.
	ComponentDepositAdjustment ComponentType = "DEPOSIT_ADJUSTMENT"
	// ComponentDepositRefund refunds deposit for excess returned cylinders.
	ComponentDepositRefund ComponentType = "DEPOSIT_REFUND"
)

// ReasonCode explains why a generated deposit line exists.
type ReasonCode string

const (
	// ReasonCylinderShortage marks deposit charged on missing empties.
	ReasonCylinderShortage ReasonCode = "CYLINDER_SHORTAGE"
	// ReasonCylinderExcess marks deposit refunded on surplus empties.
	ReasonCylinderExcess ReasonCode = "CYLINDER_EXCESS"
)

// Direction classifies an inventory requirement.
type Direction string

const (
	// DirectionInbound brings stock into the fulfilling warehouse.
	DirectionInbound Direction = "INBOUND"
	// DirectionOutbound takes stock out of the fulfilling warehouse.
	DirectionOutbound Direction = "OUTBOUND"
)

// LineRequest is one customer purchase line prior to decomposition. Negative
// quantity means return/refund. EmptiesReturned only applies to
// exchange-eligible consumables.
type LineRequest struct {
	ItemID          int64
	Quantity        decimal.Decimal
	EmptiesReturned decimal.Decimal
	CustomerID      int64
}

// DecomposedLine is one financial or physical effect of an order line.
type DecomposedLine struct {
	ItemID           int64
	Quantity         decimal.Decimal
	Component        ComponentType
	AffectsInventory bool
	ParentBundleID   int64
	Reason           ReasonCode
}

// Requirements aggregates inventory needs per item and direction. Quantities
// are always positive; direction carries the sign.
type Requirements map[int64]map[Direction]decimal.Decimal

// Add accumulates a requirement, ignoring zero quantities.
func (r Requirements) Add(itemID int64, dir Direction, qty decimal.Decimal) {
	if qty.IsZero() {
		return
	}
	if r[itemID] == nil {
		r[itemID] = make(map[Direction]decimal.Decimal)
	}
	r[itemID][dir] = r[itemID][dir].Add(qty)
}

// Merge folds another requirement set into this one.
func (r Requirements) Merge(other Requirements) {
	for itemID, dirs := range other {
		for dir, qty := range dirs {
			r.Add(itemID, dir, qty)
		}
	}
}

// Get returns the accumulated quantity for an item and direction.
func (r Requirements) Get(itemID int64, dir Direction) decimal.Decimal {
	return r[itemID][dir]
}

// Decomposition is the full result of decomposing one order line.
type Decomposition struct {
	Lines        []DecomposedLine
	Requirements Requirements
}

// ValidationIssue describes one business rule violation found while
// validating an order for the order management collaborator.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ItemID  int64  `json:"item_id,omitempty"`
}

// ValidationReport summarises order-level checks.
type ValidationReport struct {
	Valid  bool              `json:"order_valid"`
	Issues []ValidationIssue `json:"business_validations"`
}

// ErrInvalidQuantity indicates a zero, fractional or wrongly signed quantity.
var ErrInvalidQuantity = errors.New("order: invalid quantity")
