package stockdoc

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/ledger"
)

// Type enumerates the stock document kinds. Each type binds to a fixed
// ledger template applied at ship/post time.
type Type string

const (
	// TypeTransfer moves stock between two warehouses.
	TypeTransfer Type = "TRANSFER"
	// TypeConversion converts one item into another at the same location,
	// e.g. empty cylinders into full ones after a refill run.
	TypeConversion Type = "CONVERSION"
	// TypeTruckLoad moves warehouse stock onto a vehicle.
	TypeTruckLoad Type = "TRUCK_LOAD"
	// TypeTruckUnload returns vehicle stock to a warehouse.
	TypeTruckUnload Type = "TRUCK_UNLOAD"
	// TypeReceipt books external stock in at a destination.
	TypeReceipt Type = "RECEIPT"
	// TypeIssue books stock out at a source with no destination.
	TypeIssue Type = "ISSUE"
	// TypeAdjustment applies signed corrections, e.g. count variance.
	TypeAdjustment Type = "ADJUSTMENT"
)

// IsValid reports whether the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeTransfer, TypeConversion, TypeTruckLoad, TypeTruckUnload, TypeReceipt, TypeIssue, TypeAdjustment:
		return true
	default:
		return false
	}
}

// Shippable reports whether the type supports the two-step
// OPEN→SHIPPED→POSTED path. Only documents that physically travel do.
func (t Type) Shippable() bool {
	switch t {
	case TypeTransfer, TypeTruckLoad, TypeTruckUnload:
		return true
	default:
		return false
	}
}

// numberPrefix returns the document-number prefix for the type.
func (t Type) numberPrefix() string {
	switch t {
	case TypeTransfer:
		return "TRF"
	case TypeConversion:
		return "CNV"
	case TypeTruckLoad:
		return "TLD"
	case TypeTruckUnload:
		return "TUL"
	case TypeReceipt:
		return "RCV"
	case TypeIssue:
		return "ISS"
	case TypeAdjustment:
		return "ADJ"
	default:
		return "DOC"
	}
}

// Status is the document lifecycle state.
type Status string

const (
	// StatusOpen allows line edits; no ledger effect applied yet.
	StatusOpen Status = "OPEN"
	// StatusShipped means the source-side effect posted; goods in transit.
	StatusShipped Status = "SHIPPED"
	// StatusPosted is terminal with all ledger effects applied.
	StatusPosted Status = "POSTED"
	// StatusCancelled is terminal with zero net ledger effect.
	StatusCancelled Status = "CANCELLED"
)

// CanTransition reports whether status may move to next for the given type.
func (s Status) CanTransition(next Status, docType Type) bool {
	switch s {
	case StatusOpen:
		switch next {
		case StatusShipped:
			return docType.Shippable()
		case StatusPosted, StatusCancelled:
			return true
		}
	case StatusShipped:
		return next == StatusPosted || next == StatusCancelled
	}
	return false
}

// Reversal reasons recorded on compensating and variance documents.
const (
	ReasonShipmentCancelled = "SHIPMENT_CANCELLED"
	ReasonVarianceShortage  = "VARIANCE_SHORTAGE"
	ReasonVarianceOverage   = "VARIANCE_OVERAGE"
	ReasonDataCorrection    = "DATA_CORRECTION"
)

// Line is one document line. Lines are immutable once the document leaves
// OPEN.
type Line struct {
	ID       int64           `json:"id"`
	ItemID   int64           `json:"item_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	// Bucket is the status bucket a RECEIPT, ISSUE or ADJUSTMENT line
	// targets, ON_HAND when empty. Travelling types carry fixed buckets.
	Bucket ledger.Status `json:"bucket,omitempty"`
	// ConvertToItemID and Ratio drive CONVERSION lines: ItemID is consumed,
	// ConvertToItemID is produced at Qty*Ratio.
	ConvertToItemID int64           `json:"convert_to_item_id,omitempty"`
	Ratio           decimal.Decimal `json:"ratio,omitempty"`
	Note            string          `json:"note,omitempty"`
}

// Document is the unit-of-work envelope around a set of ledger mutations.
type Document struct {
	ID          int64              `json:"id"`
	Number      string             `json:"number"`
	Type        Type               `json:"type"`
	Status      Status             `json:"status"`
	Source      ledger.LocationRef `json:"source,omitempty"`
	Destination ledger.LocationRef `json:"destination,omitempty"`
	RefType     string             `json:"ref_type,omitempty"`
	RefID       string             `json:"ref_id,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Note        string             `json:"note,omitempty"`
	Lines       []Line             `json:"lines"`
	CreatedBy   int64              `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedBy   int64              `json:"updated_by"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ShippedAt   *time.Time         `json:"shipped_at,omitempty"`
	PostedAt    *time.Time         `json:"posted_at,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
}

// TotalQty sums absolute line quantities.
func (d Document) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Qty.Abs())
	}
	return total
}

var (
	// ErrDocumentNotFound indicates an unknown document id.
	ErrDocumentNotFound = errors.New("stockdoc: document not found")
	// ErrInvalidTransition indicates a lifecycle jump the state machine
	// forbids, including posting or cancelling a terminal document.
	ErrInvalidTransition = errors.New("stockdoc: invalid status transition")
	// ErrInvalidDocument indicates a document that fails type validation.
	ErrInvalidDocument = errors.New("stockdoc: invalid document")
	// ErrEmptyDocument indicates a document with no lines.
	ErrEmptyDocument = errors.New("stockdoc: document has no lines")
)

// Validate checks type-specific structural rules before a document is
// accepted.
func (d Document) Validate() error {
	if !d.Type.IsValid() {
		return ErrInvalidDocument
	}
	if len(d.Lines) == 0 {
		return ErrEmptyDocument
	}
	switch d.Type {
	case TypeTransfer, TypeTruckLoad, TypeTruckUnload:
		if d.Source.IsZero() || d.Destination.IsZero() {
			return errors.New("stockdoc: transfer documents need source and destination")
		}
		if d.Source == d.Destination {
			return errors.New("stockdoc: source and destination must differ")
		}
	case TypeConversion:
		if d.Source.IsZero() {
			return errors.New("stockdoc: conversion needs a location")
		}
	case TypeReceipt:
		if d.Destination.IsZero() {
			return errors.New("stockdoc: receipt needs a destination")
		}
	case TypeIssue:
		if d.Source.IsZero() {
			return errors.New("stockdoc: issue needs a source")
		}
	case TypeAdjustment:
		if d.Source.IsZero() {
			return errors.New("stockdoc: adjustment needs a location")
		}
	}
	switch d.Type {
	case TypeTruckLoad:
		if d.Source.Kind != ledger.LocationWarehouse || d.Destination.Kind != ledger.LocationVehicle {
			return errors.New("stockdoc: truck load goes warehouse to vehicle")
		}
	case TypeTruckUnload:
		if d.Source.Kind != ledger.LocationVehicle || d.Destination.Kind != ledger.LocationWarehouse {
			return errors.New("stockdoc: truck unload goes vehicle to warehouse")
		}
	}
	for _, line := range d.Lines {
		if line.ItemID == 0 {
			return errors.New("stockdoc: line item required")
		}
		switch d.Type {
		case TypeAdjustment:
			if line.Qty.IsZero() {
				return errors.New("stockdoc: adjustment line must be non zero")
			}
			if line.Bucket != "" && !line.Bucket.IsValid() {
				return errors.New("stockdoc: unknown adjustment bucket")
			}
		case TypeConversion:
			if !line.Qty.IsPositive() {
				return errors.New("stockdoc: conversion quantity must be positive")
			}
			if line.ConvertToItemID == 0 {
				return errors.New("stockdoc: conversion line needs a target item")
			}
			if !line.Ratio.IsPositive() {
				return errors.New("stockdoc: conversion ratio must be positive")
			}
		default:
			if !line.Qty.IsPositive() {
				return errors.New("stockdoc: line quantity must be positive")
			}
		}
	}
	return nil
}
