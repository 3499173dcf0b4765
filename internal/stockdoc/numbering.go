package stockdoc

import (
	"context"
	"fmt"
	"time"
)

// NumberAllocator hands out tenant-scoped sequential document numbers per
// type and period.
type NumberAllocator interface {
	NextNumber(ctx context.Context, docType Type, period string) (int64, error)
}

// period formats the numbering period bucket for a point in time.
func period(at time.Time) string {
	return at.UTC().Format("200601")
}

// formatNumber renders the canonical document number, e.g. TRF/202608/00042.
// Sequences are gap-tolerant: a rolled-back transaction may burn a value.
func formatNumber(docType Type, p string, seq int64) string {
	return fmt.Sprintf("%s/%s/%05d", docType.numberPrefix(), p, seq)
}
