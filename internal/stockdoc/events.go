package stockdoc

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentPostedEvent is emitted after a document reaches POSTED and its
// transaction committed.
type DocumentPostedEvent struct {
	DocumentID int64
	Number     string
	Type       Type
	RefType    string
	RefID      string
	TotalQty   decimal.Decimal
	ActorID    int64
	At         time.Time
}

// DocumentCancelledEvent is emitted after a document reaches CANCELLED.
type DocumentCancelledEvent struct {
	DocumentID int64
	Number     string
	Type       Type
	// Compensated is true when a SHIPPED-cancel reversed a source-side
	// ledger effect.
	Compensated bool
	Reason      string
	ActorID     int64
	At          time.Time
}

// EventPort receives document lifecycle events. Implementations must be
// best-effort; posting never fails because a hook did.
type EventPort interface {
	DocumentPosted(ctx context.Context, event DocumentPostedEvent)
	DocumentCancelled(ctx context.Context, event DocumentCancelledEvent)
}

func (s *Service) emitPosted(ctx context.Context, event DocumentPostedEvent) {
	if s.events == nil {
		return
	}
	s.events.DocumentPosted(ctx, event)
}

func (s *Service) emitCancelled(ctx context.Context, event DocumentCancelledEvent) {
	if s.events == nil {
		return
	}
	s.events.DocumentCancelled(ctx, event)
}
