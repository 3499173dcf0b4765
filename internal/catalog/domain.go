package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind enumerates the supported catalog item kinds.
type ItemKind string

const (
	// KindPhysicalAsset is a trackable cylinder or other hard asset.
	KindPhysicalAsset ItemKind = "PHYSICAL_ASSET"
	// KindConsumableService is the gas refill sold against a cylinder exchange.
	KindConsumableService ItemKind = "CONSUMABLE_SERVICE"
	// KindDepositLiability is the cylinder deposit held from the customer.
	KindDepositLiability ItemKind = "DEPOSIT_LIABILITY"
	// KindBundle is a composite item exploded at order time.
	KindBundle ItemKind = "BUNDLE"
)

// Condition describes the physical state of an asset item.
type Condition string

const (
	// ConditionEmpty marks an empty cylinder.
	ConditionEmpty Condition = "EMPTY"
	// ConditionFull marks a filled cylinder.
	ConditionFull Condition = "FULL"
)

// IsValid reports whether the condition is a known value.
func (c Condition) IsValid() bool {
	return c == ConditionEmpty || c == ConditionFull
}

// KindSpec is the closed set of kind-specific item payloads. Only the fields
// valid for a given kind exist on its variant, so combinations like a
// consumable with a condition cannot be represented.
type KindSpec interface {
	Kind() ItemKind
}

// PhysicalAsset carries inventory and always has a condition.
type PhysicalAsset struct {
	Condition Condition
}

// Kind implements KindSpec.
func (PhysicalAsset) Kind() ItemKind { return KindPhysicalAsset }

// ConsumableService is sold without touching inventory itself. When the
// exchange flag is set, the linked asset and deposit items drive the
// shortage/excess arithmetic during decomposition.
type ConsumableService struct {
	RequiresExchange bool
	FullItemID       int64
	EmptyItemID      int64
	DepositItemID    int64
}

// Kind implements KindSpec.
func (ConsumableService) Kind() ItemKind { return KindConsumableService }

// DepositLiability represents the refundable cylinder deposit.
type DepositLiability struct{}

// Kind implements KindSpec.
func (DepositLiability) Kind() ItemKind { return KindDepositLiability }

// Component is one entry of a bundle definition.
type Component struct {
	ItemID int64
	Qty    decimal.Decimal
}

// Bundle explodes into its components exactly one level deep.
type Bundle struct {
	Components []Component
}

// Kind implements KindSpec.
func (Bundle) Kind() ItemKind { return KindBundle }

// Item is a sellable or trackable catalog unit. Kind and condition are
// immutable after creation; catalog management replaces items instead of
// mutating them in place.
type Item struct {
	ID           int64
	ProductID    int64
	Code         string
	Name         string
	Spec         KindSpec
	UnitWeight   decimal.Decimal
	UnitVolume   decimal.Decimal
	DefaultPrice decimal.Decimal
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Kind returns the item kind, empty when the kind spec is missing.
func (i Item) Kind() ItemKind {
	if i.Spec == nil {
		return ""
	}
	return i.Spec.Kind()
}

var (
	// ErrItemNotFound occurs when a catalog lookup misses.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrInvalidCatalogState indicates a malformed item definition.
	ErrInvalidCatalogState = errors.New("catalog: invalid item definition")
	// ErrInvalidBundleDefinition indicates a recursive or dangling bundle.
	ErrInvalidBundleDefinition = errors.New("catalog: invalid bundle definition")
)

// Validate checks the invariants a stored item must satisfy. Bundle component
// kinds need a lookup and are validated separately by ValidateBundle.
func (i Item) Validate() error {
	if i.Code == "" {
		return ErrInvalidCatalogState
	}
	if i.Spec == nil {
		return ErrInvalidCatalogState
	}
	switch spec := i.Spec.(type) {
	case PhysicalAsset:
		if !spec.Condition.IsValid() {
			return ErrInvalidCatalogState
		}
	case ConsumableService:
		if spec.RequiresExchange && (spec.FullItemID == 0 || spec.EmptyItemID == 0 || spec.DepositItemID == 0) {
			return ErrInvalidCatalogState
		}
	case DepositLiability:
	case Bundle:
		if len(spec.Components) == 0 {
			return ErrInvalidBundleDefinition
		}
		for _, comp := range spec.Components {
			if comp.ItemID == 0 || comp.ItemID == i.ID || !comp.Qty.IsPositive() {
				return ErrInvalidBundleDefinition
			}
		}
	default:
		return ErrInvalidCatalogState
	}
	return nil
}
