package fleet

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
)

// StockDocPort is the slice of the document engine the adapter needs.
type StockDocPort interface {
	CreatePosted(ctx context.Context, input stockdoc.CreateInput) (stockdoc.Document, error)
}

// Adapter translates truck operations into stock documents. It owns the
// capacity gate and the unload variance reconciliation; trip state lives in
// the orchestrator.
type Adapter struct {
	docs          StockDocPort
	catalog       catalog.Lookup
	warnThreshold decimal.Decimal
}

// NewAdapter builds Adapter. A zero warnThreshold falls back to the default.
func NewAdapter(docs StockDocPort, lookup catalog.Lookup, warnThreshold decimal.Decimal) *Adapter {
	return &Adapter{docs: docs, catalog: lookup, warnThreshold: warnThreshold}
}

// LoadInput describes a truck load request.
type LoadInput struct {
	Vehicle         Vehicle
	TripID          int64
	SourceWarehouse int64
	Items           []LoadItem
	// AllowPartial trims the load to what fits instead of rejecting it.
	AllowPartial bool
	ActorID      int64
}

// LoadResult is the outcome of a successful load.
type LoadResult struct {
	Document stockdoc.Document `json:"document"`
	Report   CapacityReport    `json:"report"`
	// Loaded is what actually went on the truck; differs from the request
	// only on a partial load.
	Loaded []LoadItem `json:"loaded"`
}

// Load validates capacity, posts a TRUCK_LOAD document and reports
// utilization. Over-capacity requests fail with the full report attached
// unless the caller explicitly allows a partial load.
func (a *Adapter) Load(ctx context.Context, input LoadInput) (LoadResult, error) {
	if len(input.Items) == 0 {
		return LoadResult{}, ErrNothingToLoad
	}
	for _, li := range input.Items {
		if !li.Qty.IsPositive() {
			return LoadResult{}, fmt.Errorf("fleet: load quantity for item %d must be positive", li.ItemID)
		}
	}
	report, err := BuildCapacityReport(ctx, a.catalog, input.Vehicle, input.Items, a.warnThreshold)
	if err != nil {
		return LoadResult{}, err
	}
	toLoad := input.Items
	if report.Exceeded() {
		if !input.AllowPartial {
			return LoadResult{}, &CapacityError{VehicleCode: input.Vehicle.Code, Report: report}
		}
		toLoad, err = a.trimToCapacity(ctx, input.Vehicle, input.Items)
		if err != nil {
			return LoadResult{}, err
		}
		if len(toLoad) == 0 {
			return LoadResult{}, &CapacityError{VehicleCode: input.Vehicle.Code, Report: report}
		}
		report, err = BuildCapacityReport(ctx, a.catalog, input.Vehicle, toLoad, a.warnThreshold)
		if err != nil {
			return LoadResult{}, err
		}
	}

	lines := make([]stockdoc.Line, 0, len(toLoad))
	for _, li := range toLoad {
		lines = append(lines, stockdoc.Line{ItemID: li.ItemID, Qty: li.Qty})
	}
	doc, err := a.docs.CreatePosted(ctx, stockdoc.CreateInput{
		Type:        stockdoc.TypeTruckLoad,
		Source:      ledger.Warehouse(input.SourceWarehouse),
		Destination: ledger.Vehicle(input.Vehicle.ID),
		Lines:       lines,
		RefType:     "trip",
		RefID:       strconv.FormatInt(input.TripID, 10),
		ActorID:     input.ActorID,
	})
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Document: doc, Report: report, Loaded: toLoad}, nil
}

// trimToCapacity keeps request order and cuts each line to the largest
// whole quantity still fitting both dimensions.
func (a *Adapter) trimToCapacity(ctx context.Context, vehicle Vehicle, items []LoadItem) ([]LoadItem, error) {
	remainingWeight := vehicle.CapacityWeight
	remainingVolume := vehicle.CapacityVolume
	kept := []LoadItem{}
	for _, li := range items {
		item, err := a.catalog.ItemByID(ctx, li.ItemID)
		if err != nil {
			return nil, err
		}
		qty := li.Qty
		if vehicle.CapacityWeight.IsPositive() && item.UnitWeight.IsPositive() {
			fit := remainingWeight.DivRound(item.UnitWeight, 8).Floor()
			qty = decimal.Min(qty, fit)
		}
		if vehicle.CapacityVolume.IsPositive() && item.UnitVolume.IsPositive() {
			fit := remainingVolume.DivRound(item.UnitVolume, 8).Floor()
			qty = decimal.Min(qty, fit)
		}
		if !qty.IsPositive() {
			continue
		}
		remainingWeight = remainingWeight.Sub(qty.Mul(item.UnitWeight))
		remainingVolume = remainingVolume.Sub(qty.Mul(item.UnitVolume))
		kept = append(kept, LoadItem{ItemID: li.ItemID, Qty: qty})
	}
	return kept, nil
}

// recordDelivery posts the documents for one customer stop: an ISSUE
// draining the handed-over fulls from truck stock and, when empties came
// back, a RECEIPT booking them onto the truck.
func (a *Adapter) recordDelivery(ctx context.Context, trip Trip, input DeliveryInput) error {
	tripRef := strconv.FormatInt(trip.ID, 10)
	refType := "trip"
	if input.OrderID != 0 {
		refType = "order"
		tripRef = strconv.FormatInt(input.OrderID, 10)
	}

	issueLines := []stockdoc.Line{}
	receiptLines := []stockdoc.Line{}
	for _, di := range input.Items {
		issueLines = append(issueLines, stockdoc.Line{
			ItemID: di.ItemID,
			Qty:    di.Qty,
			Bucket: ledger.StatusTruckStock,
		})
		if di.EmptyItemID != 0 && di.EmptiesCollected.IsPositive() {
			receiptLines = append(receiptLines, stockdoc.Line{
				ItemID: di.EmptyItemID,
				Qty:    di.EmptiesCollected,
				Bucket: ledger.StatusTruckStock,
			})
		}
	}
	if len(issueLines) > 0 {
		if _, err := a.docs.CreatePosted(ctx, stockdoc.CreateInput{
			Type:    stockdoc.TypeIssue,
			Source:  ledger.Vehicle(trip.VehicleID),
			Lines:   issueLines,
			RefType: refType,
			RefID:   tripRef,
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}
	}
	if len(receiptLines) > 0 {
		if _, err := a.docs.CreatePosted(ctx, stockdoc.CreateInput{
			Type:        stockdoc.TypeReceipt,
			Destination: ledger.Vehicle(trip.VehicleID),
			Lines:       receiptLines,
			RefType:     refType,
			RefID:       tripRef,
			ActorID:     input.ActorID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// UnloadInput describes a truck unload with physically counted stock.
type UnloadInput struct {
	Vehicle       Vehicle
	TripID        int64
	DestWarehouse int64
	// Expected is the trip inventory view, keyed by item.
	Expected map[int64]decimal.Decimal
	// Actual is what the yard counted on the truck.
	Actual  []CountItem
	ActorID int64
}

// ItemVariance is one reconciled difference.
type ItemVariance struct {
	ItemID   int64           `json:"item_id"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Variance decimal.Decimal `json:"variance"`
	Reason   string          `json:"reason"`
}

// UnloadResult is the outcome of an unload reconciliation.
type UnloadResult struct {
	// UnloadDocument moves exactly the counted quantities. Nil when the
	// truck came back empty.
	UnloadDocument *stockdoc.Document `json:"unload_document,omitempty"`
	// VarianceDocuments hold one ADJUSTMENT per item whose count diverged.
	VarianceDocuments []stockdoc.Document `json:"variance_documents,omitempty"`
	Variances         []ItemVariance      `json:"variances,omitempty"`
}

// Unload reconciles the counted stock against expectation, posts one
// variance ADJUSTMENT per diverging item and then a TRUCK_UNLOAD for the
// actual count. The unload document never absorbs variance: its quantities
// are always what was physically counted.
func (a *Adapter) Unload(ctx context.Context, input UnloadInput) (UnloadResult, error) {
	actual := map[int64]decimal.Decimal{}
	for _, ci := range input.Actual {
		if ci.Qty.IsNegative() {
			return UnloadResult{}, fmt.Errorf("fleet: counted quantity for item %d must not be negative", ci.ItemID)
		}
		actual[ci.ItemID] = actual[ci.ItemID].Add(ci.Qty)
	}

	itemIDs := map[int64]struct{}{}
	for id := range input.Expected {
		itemIDs[id] = struct{}{}
	}
	for id := range actual {
		itemIDs[id] = struct{}{}
	}
	ordered := make([]int64, 0, len(itemIDs))
	for id := range itemIDs {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	result := UnloadResult{}
	tripRef := strconv.FormatInt(input.TripID, 10)
	for _, itemID := range ordered {
		expected := input.Expected[itemID]
		counted := actual[itemID]
		variance := counted.Sub(expected)
		if variance.IsZero() {
			continue
		}
		reason := stockdoc.ReasonVarianceOverage
		if variance.IsNegative() {
			reason = stockdoc.ReasonVarianceShortage
		}
		doc, err := a.docs.CreatePosted(ctx, stockdoc.CreateInput{
			Type:    stockdoc.TypeAdjustment,
			Source:  ledger.Vehicle(input.Vehicle.ID),
			Reason:  reason,
			RefType: "trip",
			RefID:   tripRef,
			Lines: []stockdoc.Line{{
				ItemID: itemID,
				Qty:    variance,
				Bucket: ledger.StatusTruckStock,
			}},
			ActorID: input.ActorID,
		})
		if err != nil {
			return UnloadResult{}, err
		}
		result.VarianceDocuments = append(result.VarianceDocuments, doc)
		result.Variances = append(result.Variances, ItemVariance{
			ItemID: itemID, Expected: expected, Actual: counted, Variance: variance, Reason: reason,
		})
	}

	unloadLines := make([]stockdoc.Line, 0, len(ordered))
	for _, itemID := range ordered {
		if qty := actual[itemID]; qty.IsPositive() {
			unloadLines = append(unloadLines, stockdoc.Line{ItemID: itemID, Qty: qty})
		}
	}
	if len(unloadLines) > 0 {
		doc, err := a.docs.CreatePosted(ctx, stockdoc.CreateInput{
			Type:        stockdoc.TypeTruckUnload,
			Source:      ledger.Vehicle(input.Vehicle.ID),
			Destination: ledger.Warehouse(input.DestWarehouse),
			Lines:       unloadLines,
			RefType:     "trip",
			RefID:       tripRef,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return UnloadResult{}, err
		}
		result.UnloadDocument = &doc
	}
	return result, nil
}
