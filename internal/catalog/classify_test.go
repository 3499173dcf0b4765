package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestClassifyPhysicalAsset(t *testing.T) {
	item := Item{ID: 1, Code: "CYL13-FULL", Spec: PhysicalAsset{Condition: ConditionFull}}
	cls, err := Classify(item)
	require.NoError(t, err)
	require.True(t, cls.AffectsInventory)
	require.False(t, cls.RequiresExchange)
	require.Equal(t, BucketAssetSale, cls.Bucket)
}

func TestClassifyConsumable(t *testing.T) {
	item := Item{ID: 2, Code: "GAS13", Spec: ConsumableService{
		RequiresExchange: true,
		FullItemID:       10,
		EmptyItemID:      11,
		DepositItemID:    12,
	}}
	cls, err := Classify(item)
	require.NoError(t, err)
	require.False(t, cls.AffectsInventory)
	require.True(t, cls.RequiresExchange)
	require.Equal(t, BucketGasRevenue, cls.Bucket)
}

func TestClassifyDeposit(t *testing.T) {
	cls, err := Classify(Item{ID: 3, Code: "DEP13", Spec: DepositLiability{}})
	require.NoError(t, err)
	require.False(t, cls.AffectsInventory)
	require.Equal(t, BucketDepositLiability, cls.Bucket)
}

func TestClassifyRejectsMalformedItems(t *testing.T) {
	cases := map[string]Item{
		"missing spec":            {ID: 1, Code: "X"},
		"missing code":            {ID: 1, Spec: DepositLiability{}},
		"asset without condition": {ID: 1, Code: "CYL", Spec: PhysicalAsset{}},
		"exchange without links":  {ID: 1, Code: "GAS", Spec: ConsumableService{RequiresExchange: true}},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Classify(item)
			require.ErrorIs(t, err, ErrInvalidCatalogState)
		})
	}
}

func TestClassifyRejectsEmptyBundle(t *testing.T) {
	_, err := Classify(Item{ID: 4, Code: "KIT", Spec: Bundle{}})
	require.ErrorIs(t, err, ErrInvalidBundleDefinition)
}

type stubLookup map[int64]Item

func (s stubLookup) ItemByID(_ context.Context, id int64) (Item, error) {
	item, ok := s[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (s stubLookup) ItemByCode(_ context.Context, code string) (Item, error) {
	for _, item := range s {
		if item.Code == code {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func TestValidateBundle(t *testing.T) {
	lookup := stubLookup{
		10: {ID: 10, Code: "CYL13-FULL", Spec: PhysicalAsset{Condition: ConditionFull}},
		12: {ID: 12, Code: "DEP13", Spec: DepositLiability{}},
		20: {ID: 20, Code: "KIT-INNER", Spec: Bundle{Components: []Component{{ItemID: 10, Qty: decimal.NewFromInt(1)}}}},
	}
	kit := Item{ID: 30, Code: "KIT13-OUTRIGHT", Spec: Bundle{Components: []Component{
		{ItemID: 10, Qty: decimal.NewFromInt(1)},
		{ItemID: 12, Qty: decimal.NewFromInt(1)},
	}}}
	require.NoError(t, ValidateBundle(context.Background(), lookup, kit))

	recursive := Item{ID: 31, Code: "KIT-NESTED", Spec: Bundle{Components: []Component{
		{ItemID: 20, Qty: decimal.NewFromInt(1)},
	}}}
	require.ErrorIs(t, ValidateBundle(context.Background(), lookup, recursive), ErrInvalidBundleDefinition)

	dangling := Item{ID: 32, Code: "KIT-DANGLING", Spec: Bundle{Components: []Component{
		{ItemID: 99, Qty: decimal.NewFromInt(1)},
	}}}
	require.ErrorIs(t, ValidateBundle(context.Background(), lookup, dangling), ErrInvalidBundleDefinition)
}
