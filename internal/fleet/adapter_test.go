package fleet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
)

const (
	itemCylFull  = int64(10)
	itemCylEmpty = int64(11)
	itemBigFull  = int64(12)
)

type fakeCatalog map[int64]catalog.Item

func (f fakeCatalog) ItemByID(_ context.Context, id int64) (catalog.Item, error) {
	item, ok := f[id]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return item, nil
}

func (f fakeCatalog) ItemByCode(_ context.Context, code string) (catalog.Item, error) {
	for _, item := range f {
		if item.Code == code {
			return item, nil
		}
	}
	return catalog.Item{}, catalog.ErrItemNotFound
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		// A filled 13kg cylinder: ~25kg gross, 0.06 m3.
		itemCylFull: {ID: itemCylFull, Code: "CYL13-FULL",
			Spec:       catalog.PhysicalAsset{Condition: catalog.ConditionFull},
			UnitWeight: dec("25"), UnitVolume: dec("0.06")},
		itemCylEmpty: {ID: itemCylEmpty, Code: "CYL13-EMPTY",
			Spec:       catalog.PhysicalAsset{Condition: catalog.ConditionEmpty},
			UnitWeight: dec("11"), UnitVolume: dec("0.06")},
		itemBigFull: {ID: itemBigFull, Code: "CYL50-FULL",
			Spec:       catalog.PhysicalAsset{Condition: catalog.ConditionFull},
			UnitWeight: dec("60"), UnitVolume: dec("0.12")},
	}
}

// fakeDocs records every posted document without touching a ledger.
type fakeDocs struct {
	nextID int64
	posted []stockdoc.CreateInput
	docs   []stockdoc.Document
	failOn func(stockdoc.CreateInput) error
}

func (f *fakeDocs) CreatePosted(_ context.Context, input stockdoc.CreateInput) (stockdoc.Document, error) {
	if f.failOn != nil {
		if err := f.failOn(input); err != nil {
			return stockdoc.Document{}, err
		}
	}
	f.nextID++
	doc := stockdoc.Document{
		ID:          f.nextID,
		Type:        input.Type,
		Status:      stockdoc.StatusPosted,
		Source:      input.Source,
		Destination: input.Destination,
		Reason:      input.Reason,
		Lines:       input.Lines,
		RefType:     input.RefType,
		RefID:       input.RefID,
	}
	f.posted = append(f.posted, input)
	f.docs = append(f.docs, doc)
	return doc, nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func truck() Vehicle {
	return Vehicle{
		ID: 7, Code: "TRK-01", IsActive: true,
		CapacityWeight: dec("500"),
		CapacityVolume: dec("2"),
	}
}

func TestBuildCapacityReport(t *testing.T) {
	report, err := BuildCapacityReport(context.Background(), testCatalog(), truck(),
		[]LoadItem{{ItemID: itemCylFull, Qty: dec("10")}}, decimal.Zero)
	require.NoError(t, err)
	require.True(t, report.WeightUsed.Equal(dec("250")))
	require.True(t, report.WeightPct.Equal(dec("50")))
	require.True(t, report.VolumeUsed.Equal(dec("0.6")))
	require.Empty(t, report.Warnings)
}

func TestCapacityReportWarnsAboveThreshold(t *testing.T) {
	// 18 fulls = 450kg = 90% of 500kg: warned, not blocked.
	report, err := BuildCapacityReport(context.Background(), testCatalog(), truck(),
		[]LoadItem{{ItemID: itemCylFull, Qty: dec("18")}}, decimal.Zero)
	require.NoError(t, err)
	require.False(t, report.Exceeded())
	require.Len(t, report.Warnings, 1)
}

func TestLoadPostsTruckLoadDocument(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	result, err := a.Load(context.Background(), LoadInput{
		Vehicle:         truck(),
		TripID:          5,
		SourceWarehouse: 1,
		Items:           []LoadItem{{ItemID: itemCylFull, Qty: dec("10")}},
	})
	require.NoError(t, err)
	require.Len(t, docs.posted, 1)

	posted := docs.posted[0]
	require.Equal(t, stockdoc.TypeTruckLoad, posted.Type)
	require.Equal(t, ledger.Warehouse(1), posted.Source)
	require.Equal(t, ledger.Vehicle(7), posted.Destination)
	require.Equal(t, "trip", posted.RefType)
	require.Equal(t, "5", posted.RefID)
	require.True(t, result.Report.WeightPct.Equal(dec("50")))
	require.Len(t, result.Loaded, 1)
}

func TestLoadOverCapacityRejectedWithReport(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	// 21 fulls = 525kg against 500kg.
	_, err := a.Load(context.Background(), LoadInput{
		Vehicle:         truck(),
		TripID:          5,
		SourceWarehouse: 1,
		Items:           []LoadItem{{ItemID: itemCylFull, Qty: dec("21")}},
	})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.True(t, capErr.Report.WeightUsed.Equal(dec("525")))
	require.Empty(t, docs.posted, "nothing is posted on a rejected load")
}

func TestLoadPartialTrimsToCapacity(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	result, err := a.Load(context.Background(), LoadInput{
		Vehicle:         truck(),
		TripID:          5,
		SourceWarehouse: 1,
		Items:           []LoadItem{{ItemID: itemCylFull, Qty: dec("21")}},
		AllowPartial:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Loaded, 1)
	require.True(t, result.Loaded[0].Qty.Equal(dec("20")), "20 fulls fit in 500kg")
	require.False(t, result.Report.Exceeded())
}

func TestUnloadVarianceNeverAbsorbed(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	// Loaded 10, delivered 7, so 3 expected; only 2 counted.
	result, err := a.Unload(context.Background(), UnloadInput{
		Vehicle:       truck(),
		TripID:        5,
		DestWarehouse: 1,
		Expected:      map[int64]decimal.Decimal{itemCylFull: dec("3")},
		Actual:        []CountItem{{ItemID: itemCylFull, Qty: dec("2")}},
	})
	require.NoError(t, err)

	require.Len(t, result.VarianceDocuments, 1)
	variance := result.VarianceDocuments[0]
	require.Equal(t, stockdoc.TypeAdjustment, variance.Type)
	require.Equal(t, stockdoc.ReasonVarianceShortage, variance.Reason)
	require.True(t, variance.Lines[0].Qty.Equal(dec("-1")))
	require.Equal(t, ledger.StatusTruckStock, variance.Lines[0].Bucket)

	require.NotNil(t, result.UnloadDocument)
	require.Equal(t, stockdoc.TypeTruckUnload, result.UnloadDocument.Type)
	require.True(t, result.UnloadDocument.Lines[0].Qty.Equal(dec("2")), "unload moves the counted 2 units, never the expected 3")

	require.Len(t, result.Variances, 1)
	require.True(t, result.Variances[0].Variance.Equal(dec("-1")))
}

func TestUnloadOverageVariance(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	result, err := a.Unload(context.Background(), UnloadInput{
		Vehicle:       truck(),
		TripID:        5,
		DestWarehouse: 1,
		Expected:      map[int64]decimal.Decimal{itemCylEmpty: dec("4")},
		Actual:        []CountItem{{ItemID: itemCylEmpty, Qty: dec("5")}},
	})
	require.NoError(t, err)
	require.Len(t, result.VarianceDocuments, 1)
	require.Equal(t, stockdoc.ReasonVarianceOverage, result.VarianceDocuments[0].Reason)
	require.True(t, result.VarianceDocuments[0].Lines[0].Qty.Equal(dec("1")))
	require.True(t, result.UnloadDocument.Lines[0].Qty.Equal(dec("5")))
}

func TestUnloadExactCountNoVariance(t *testing.T) {
	docs := &fakeDocs{}
	a := NewAdapter(docs, testCatalog(), decimal.Zero)

	result, err := a.Unload(context.Background(), UnloadInput{
		Vehicle:       truck(),
		TripID:        5,
		DestWarehouse: 1,
		Expected:      map[int64]decimal.Decimal{itemCylFull: dec("3")},
		Actual:        []CountItem{{ItemID: itemCylFull, Qty: dec("3")}},
	})
	require.NoError(t, err)
	require.Empty(t, result.VarianceDocuments)
	require.NotNil(t, result.UnloadDocument)
}

func TestUnloadRejectsNegativeCount(t *testing.T) {
	a := NewAdapter(&fakeDocs{}, testCatalog(), decimal.Zero)
	_, err := a.Unload(context.Background(), UnloadInput{
		Vehicle: truck(), TripID: 5, DestWarehouse: 1,
		Actual: []CountItem{{ItemID: itemCylFull, Qty: dec("-1")}},
	})
	require.Error(t, err)
}
