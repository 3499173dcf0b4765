package catalog

import "context"

// AccountingBucket groups order lines for posting to the ledger of record.
type AccountingBucket string

const (
	// BucketAssetSale covers outright cylinder sales.
	BucketAssetSale AccountingBucket = "ASSET_SALE"
	// BucketGasRevenue covers refill revenue.
	BucketGasRevenue AccountingBucket = "GAS_REVENUE"
	// BucketDepositLiability covers deposits held and refunded.
	BucketDepositLiability AccountingBucket = "DEPOSIT_LIABILITY"
	// BucketComposite marks bundle headers; their components carry the
	// real buckets after explosion.
	BucketComposite AccountingBucket = "COMPOSITE"
)

// Classification is the decomposition-facing view of an item.
type Classification struct {
	AffectsInventory bool
	RequiresExchange bool
	Bucket           AccountingBucket
}

// Classify derives the classification from the item's kind spec. Pure and
// deterministic; a malformed definition yields ErrInvalidCatalogState.
func Classify(item Item) (Classification, error) {
	if err := item.Validate(); err != nil {
		return Classification{}, err
	}
	switch spec := item.Spec.(type) {
	case PhysicalAsset:
		return Classification{AffectsInventory: true, Bucket: BucketAssetSale}, nil
	case ConsumableService:
		return Classification{RequiresExchange: spec.RequiresExchange, Bucket: BucketGasRevenue}, nil
	case DepositLiability:
		return Classification{Bucket: BucketDepositLiability}, nil
	case Bundle:
		return Classification{Bucket: BucketComposite}, nil
	default:
		return Classification{}, ErrInvalidCatalogState
	}
}

// Lookup provides read-only catalog access. Catalog management owns item
// creation; this module never writes items.
type Lookup interface {
	ItemByID(ctx context.Context, id int64) (Item, error)
	ItemByCode(ctx context.Context, code string) (Item, error)
}

// ValidateBundle checks that every component of a bundle resolves to an
// existing non-bundle item after one level of explosion.
func ValidateBundle(ctx context.Context, lookup Lookup, item Item) error {
	bundle, ok := item.Spec.(Bundle)
	if !ok {
		return nil
	}
	if err := item.Validate(); err != nil {
		return err
	}
	for _, comp := range bundle.Components {
		child, err := lookup.ItemByID(ctx, comp.ItemID)
		if err != nil {
			return ErrInvalidBundleDefinition
		}
		if child.Kind() == KindBundle {
			return ErrInvalidBundleDefinition
		}
	}
	return nil
}
