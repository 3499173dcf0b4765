package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/catalog"
)

// Decomposer explodes order lines into their physical and financial
// components. It is stateless apart from the catalog lookup.
type Decomposer struct {
	catalog catalog.Lookup
}

// NewDecomposer constructs Decomposer.
func NewDecomposer(lookup catalog.Lookup) *Decomposer {
	return &Decomposer{catalog: lookup}
}

// Decompose turns one order line into decomposed lines plus the inventory
// requirement set. Errors are caller-fatal; no partial result is returned.
func (d *Decomposer) Decompose(ctx context.Context, req LineRequest) (Decomposition, error) {
	if req.ItemID == 0 {
		return Decomposition{}, fmt.Errorf("%w: item required", ErrInvalidQuantity)
	}
	item, err := d.catalog.ItemByID(ctx, req.ItemID)
	if err != nil {
		return Decomposition{}, err
	}
	cls, err := catalog.Classify(item)
	if err != nil {
		return Decomposition{}, err
	}

	result := Decomposition{Requirements: make(Requirements)}
	switch spec := item.Spec.(type) {
	case catalog.PhysicalAsset:
		if err := requireWholeNonZero(req.Quantity); err != nil {
			return Decomposition{}, err
		}
		result.Lines = append(result.Lines, DecomposedLine{
			ItemID:           item.ID,
			Quantity:         req.Quantity,
			Component:        ComponentPhysical,
			AffectsInventory: true,
		})
		addSignedRequirement(result.Requirements, item.ID, req.Quantity)
	case catalog.ConsumableService:
		if err := d.decomposeConsumable(item, spec, cls, req, &result); err != nil {
			return Decomposition{}, err
		}
	case catalog.DepositLiability:
		if err := requireWholeNonZero(req.Quantity); err != nil {
			return Decomposition{}, err
		}
		component := ComponentDepositAdjustment
		if req.Quantity.IsNegative() {
			component = ComponentDepositRefund
		}
		result.Lines = append(result.Lines, DecomposedLine{
			ItemID:    item.ID,
			Quantity:  req.Quantity,
			Component: component,
		})
	case catalog.Bundle:
		if err := d.decomposeBundle(ctx, item, spec, req, &result); err != nil {
			return Decomposition{}, err
		}
	default:
		return Decomposition{}, catalog.ErrInvalidCatalogState
	}
	return result, nil
}

// decomposeConsumable applies the gas-exchange arithmetic. The consumable
// item itself never touches inventory; the linked full/empty assets do.
func (d *Decomposer) decomposeConsumable(item catalog.Item, spec catalog.ConsumableService, cls catalog.Classification, req LineRequest, out *Decomposition) error {
	if err := requireWholePositive(req.Quantity); err != nil {
		return err
	}
	if err := requireWholeNonNegative(req.EmptiesReturned); err != nil {
		return err
	}
	out.Lines = append(out.Lines, DecomposedLine{
		ItemID:    item.ID,
		Quantity:  req.Quantity,
		Component: ComponentGasService,
	})
	if !cls.RequiresExchange {
		return nil
	}

	// One empty owed back per unit of full gas taken.
	emptiesRequired := req.Quantity
	shortfall := decimal.Max(decimal.Zero, emptiesRequired.Sub(req.EmptiesReturned))
	excess := decimal.Max(decimal.Zero, req.EmptiesReturned.Sub(emptiesRequired))

	if shortfall.IsPositive() {
		out.Lines = append(out.Lines, DecomposedLine{
			ItemID:    spec.DepositItemID,
			Quantity:  shortfall,
			Component: ComponentDepositAdjustment,
			Reason:    ReasonCylinderShortage,
		})
	}
	if excess.IsPositive() {
		out.Lines = append(out.Lines, DecomposedLine{
			ItemID:    spec.DepositItemID,
			Quantity:  excess.Neg(),
			Component: ComponentDepositRefund,
			Reason:    ReasonCylinderExcess,
		})
	}

	out.Requirements.Add(spec.FullItemID, DirectionOutbound, req.Quantity)
	out.Requirements.Add(spec.EmptyItemID, DirectionInbound, req.EmptiesReturned)
	return nil
}

// decomposeBundle explodes exactly one level. Components must already be
// non-bundle items; the catalog validates that at write time and we reject
// violations here as well.
func (d *Decomposer) decomposeBundle(ctx context.Context, item catalog.Item, spec catalog.Bundle, req LineRequest, out *Decomposition) error {
	if err := requireWholePositive(req.Quantity); err != nil {
		return err
	}
	for _, comp := range spec.Components {
		child, err := d.catalog.ItemByID(ctx, comp.ItemID)
		if err != nil {
			return fmt.Errorf("%w: component %d", catalog.ErrInvalidBundleDefinition, comp.ItemID)
		}
		if _, err := catalog.Classify(child); err != nil {
			return err
		}
		qty := req.Quantity.Mul(comp.Qty)
		switch child.Spec.(type) {
		case catalog.Bundle:
			return fmt.Errorf("%w: nested bundle %s", catalog.ErrInvalidBundleDefinition, child.Code)
		case catalog.PhysicalAsset:
			out.Lines = append(out.Lines, DecomposedLine{
				ItemID:           child.ID,
				Quantity:         qty,
				Component:        ComponentPhysical,
				AffectsInventory: true,
				ParentBundleID:   item.ID,
			})
			addSignedRequirement(out.Requirements, child.ID, qty)
		case catalog.DepositLiability:
			out.Lines = append(out.Lines, DecomposedLine{
				ItemID:         child.ID,
				Quantity:       qty,
				Component:      ComponentDepositAdjustment,
				ParentBundleID: item.ID,
			})
		case catalog.ConsumableService:
			// A refill inside a bundle carries no exchange obligation; the
			// bundle's own deposit component covers the cylinder.
			out.Lines = append(out.Lines, DecomposedLine{
				ItemID:         child.ID,
				Quantity:       qty,
				Component:      ComponentGasService,
				ParentBundleID: item.ID,
			})
		}
	}
	return nil
}

// DecomposeAll decomposes every line and merges the requirement sets, used
// by order management for allocation.
func (d *Decomposer) DecomposeAll(ctx context.Context, reqs []LineRequest) ([]Decomposition, Requirements, error) {
	merged := make(Requirements)
	results := make([]Decomposition, 0, len(reqs))
	for i, req := range reqs {
		dec, err := d.Decompose(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		merged.Merge(dec.Requirements)
		results = append(results, dec)
	}
	return results, merged, nil
}

// Validate produces the business validation report order management consumes.
// It never mutates anything and collects all issues instead of failing fast.
func (d *Decomposer) Validate(ctx context.Context, reqs []LineRequest) ValidationReport {
	report := ValidationReport{Valid: true, Issues: []ValidationIssue{}}
	for _, req := range reqs {
		if _, err := d.Decompose(ctx, req); err != nil {
			report.Valid = false
			report.Issues = append(report.Issues, ValidationIssue{
				Code:    issueCode(err),
				Message: err.Error(),
				ItemID:  req.ItemID,
			})
		}
	}
	return report
}

func issueCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, catalog.ErrInvalidBundleDefinition):
		return "INVALID_BUNDLE_DEFINITION"
	case errors.Is(err, catalog.ErrInvalidCatalogState):
		return "INVALID_CATALOG_STATE"
	case errors.Is(err, catalog.ErrItemNotFound):
		return "ITEM_NOT_FOUND"
	default:
		return "DECOMPOSITION_FAILED"
	}
}

func addSignedRequirement(reqs Requirements, itemID int64, qty decimal.Decimal) {
	if qty.IsPositive() {
		reqs.Add(itemID, DirectionOutbound, qty)
	} else if qty.IsNegative() {
		reqs.Add(itemID, DirectionInbound, qty.Neg())
	}
}

func requireWholeNonZero(qty decimal.Decimal) error {
	if qty.IsZero() {
		return fmt.Errorf("%w: quantity must be non zero", ErrInvalidQuantity)
	}
	return requireWhole(qty)
}

func requireWholePositive(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	return requireWhole(qty)
}

func requireWholeNonNegative(qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidQuantity)
	}
	return requireWhole(qty)
}

// Cylinders only move in whole units.
func requireWhole(qty decimal.Decimal) error {
	if !qty.Equal(qty.Truncate(0)) {
		return fmt.Errorf("%w: fractional cylinder count", ErrInvalidQuantity)
	}
	return nil
}
