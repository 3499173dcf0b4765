package stockdoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the document lifecycle. Every transition and its ledger
// effects run in one transaction; events fire only after commit.
type Service struct {
	repo   RepositoryPort
	events EventPort
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, events EventPort, audit AuditPort) *Service {
	return &Service{repo: repo, events: events, audit: audit}
}

// CreateInput describes a new document.
type CreateInput struct {
	Type        Type
	Source      ledger.LocationRef
	Destination ledger.LocationRef
	Lines       []Line
	RefType     string
	RefID       string
	Reason      string
	Note        string
	ActorID     int64
}

// Create opens a new document with an allocated number.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	doc := Document{
		Type:        input.Type,
		Status:      StatusOpen,
		Source:      input.Source,
		Destination: input.Destination,
		Lines:       input.Lines,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Reason:      input.Reason,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		UpdatedBy:   input.ActorID,
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = createDocument(ctx, tx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, input.ActorID, "stockdoc:create", doc)
	return doc, nil
}

// CreatePosted creates a document and posts it in a single transaction.
// Used by flows where the physical act already happened, e.g. truck load.
func (s *Service) CreatePosted(ctx context.Context, input CreateInput) (Document, error) {
	doc := Document{
		Type:        input.Type,
		Status:      StatusOpen,
		Source:      input.Source,
		Destination: input.Destination,
		Lines:       input.Lines,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Reason:      input.Reason,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		UpdatedBy:   input.ActorID,
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = createDocument(ctx, tx, doc)
		if err != nil {
			return err
		}
		return postDocument(ctx, tx, &doc, input.ActorID)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, input.ActorID, "stockdoc:post", doc)
	s.emitPosted(ctx, postedEvent(doc, input.ActorID))
	return doc, nil
}

// Ship applies the source-side ledger effect and moves the document to
// SHIPPED. Only travelling document types support this.
func (s *Service) Ship(ctx context.Context, id int64, actorID int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Status.CanTransition(StatusShipped, doc.Type) {
			return fmt.Errorf("%w: %s %s -> SHIPPED", ErrInvalidTransition, doc.Type, doc.Status)
		}
		ldg := tx.Ledger()
		for _, line := range doc.Lines {
			if _, _, err := ledger.ApplyStatusTransfer(ctx, ldg, ledger.StatusTransferInput{
				Location: doc.Source,
				ItemID:   line.ItemID,
				From:     sourceBucket(doc.Type),
				To:       ledger.StatusInTransit,
				Qty:      line.Qty,
				RefType:  "stock_doc",
				RefID:    doc.Number,
				ActorID:  actorID,
			}); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		doc.Status = StatusShipped
		doc.ShippedAt = &now
		doc.UpdatedBy = actorID
		return tx.UpdateDocumentStatus(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actorID, "stockdoc:ship", doc)
	return doc, nil
}

// Post applies the remaining ledger effects and moves the document to
// POSTED. Posting a POSTED or CANCELLED document fails with
// ErrInvalidTransition; the first post wins.
func (s *Service) Post(ctx context.Context, id int64, actorID int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return postDocument(ctx, tx, &doc, actorID)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actorID, "stockdoc:post", doc)
	s.emitPosted(ctx, postedEvent(doc, actorID))
	return doc, nil
}

// Cancel terminates a document. From OPEN nothing moved, so nothing is
// reversed. From SHIPPED the source-side effect is compensated in the same
// transaction. POSTED documents are never cancelled; corrections require a
// new compensating document.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64, reason string) (Document, error) {
	var doc Document
	var compensated bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Status.CanTransition(StatusCancelled, doc.Type) {
			return fmt.Errorf("%w: %s %s -> CANCELLED", ErrInvalidTransition, doc.Type, doc.Status)
		}
		if doc.Status == StatusShipped {
			compensated = true
			ldg := tx.Ledger()
			for _, line := range doc.Lines {
				if _, _, err := ledger.ApplyStatusTransfer(ctx, ldg, ledger.StatusTransferInput{
					Location: doc.Source,
					ItemID:   line.ItemID,
					From:     ledger.StatusInTransit,
					To:       sourceBucket(doc.Type),
					Qty:      line.Qty,
					RefType:  "stock_doc_reversal",
					RefID:    doc.Number,
					Note:     ReasonShipmentCancelled,
					ActorID:  actorID,
				}); err != nil {
					return err
				}
			}
		}
		now := time.Now().UTC()
		doc.Status = StatusCancelled
		doc.CancelledAt = &now
		doc.UpdatedBy = actorID
		if reason != "" {
			doc.Reason = reason
		} else if compensated {
			doc.Reason = ReasonShipmentCancelled
		}
		return tx.UpdateDocumentStatus(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actorID, "stockdoc:cancel", doc)
	s.emitCancelled(ctx, DocumentCancelledEvent{
		DocumentID:  doc.ID,
		Number:      doc.Number,
		Type:        doc.Type,
		Compensated: compensated,
		Reason:      doc.Reason,
		ActorID:     actorID,
		At:          time.Now().UTC(),
	})
	return doc, nil
}

// Get loads one document with lines.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns matching documents.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	return s.repo.List(ctx, filter)
}

func createDocument(ctx context.Context, tx TxRepository, doc Document) (Document, error) {
	p := period(time.Now())
	seq, err := tx.NextNumber(ctx, doc.Type, p)
	if err != nil {
		return Document{}, err
	}
	doc.Number = formatNumber(doc.Type, p, seq)
	doc.ID, err = tx.InsertDocument(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	if err := tx.InsertLines(ctx, doc.ID, doc.Lines); err != nil {
		return Document{}, err
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return doc, nil
}

// postDocument applies the destination-side (or full, when posting straight
// from OPEN) ledger template and marks the document POSTED.
func postDocument(ctx context.Context, tx TxRepository, doc *Document, actorID int64) error {
	if !doc.Status.CanTransition(StatusPosted, doc.Type) {
		return fmt.Errorf("%w: %s %s -> POSTED", ErrInvalidTransition, doc.Type, doc.Status)
	}
	ldg := tx.Ledger()
	fromShipped := doc.Status == StatusShipped
	for _, line := range doc.Lines {
		if err := applyLineTemplate(ctx, ldg, *doc, line, fromShipped, actorID); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	doc.Status = StatusPosted
	doc.PostedAt = &now
	doc.UpdatedBy = actorID
	return tx.UpdateDocumentStatus(ctx, *doc)
}

// applyLineTemplate maps one line onto its type's fixed ledger calls.
func applyLineTemplate(ctx context.Context, ldg ledger.TxRepository, doc Document, line Line, fromShipped bool, actorID int64) error {
	refType, refID := "stock_doc", doc.Number

	switch doc.Type {
	case TypeTransfer, TypeTruckLoad, TypeTruckUnload:
		travelBucket := sourceBucket(doc.Type)
		if fromShipped {
			travelBucket = ledger.StatusInTransit
		}
		if _, _, err := ledger.ApplyTransfer(ctx, ldg, ledger.TransferInput{
			From:    doc.Source,
			To:      doc.Destination,
			ItemID:  line.ItemID,
			Status:  travelBucket,
			Qty:     line.Qty,
			RefType: refType,
			RefID:   refID,
			ActorID: actorID,
		}); err != nil {
			return err
		}
		if target := destinationBucket(doc.Type); target != travelBucket {
			if _, _, err := ledger.ApplyStatusTransfer(ctx, ldg, ledger.StatusTransferInput{
				Location: doc.Destination,
				ItemID:   line.ItemID,
				From:     travelBucket,
				To:       target,
				Qty:      line.Qty,
				RefType:  refType,
				RefID:    refID,
				ActorID:  actorID,
			}); err != nil {
				return err
			}
		}
		return nil

	case TypeConversion:
		srcBal, err := lockBalance(ctx, ldg, doc.Source, line.ItemID, ledger.StatusOnHand)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyAdjust(ctx, ldg, ledger.AdjustInput{
			Location: doc.Source,
			ItemID:   line.ItemID,
			Status:   ledger.StatusOnHand,
			Delta:    line.Qty.Neg(),
			RefType:  refType,
			RefID:    refID,
			ActorID:  actorID,
		}); err != nil {
			return err
		}
		produced := line.Qty.Mul(line.Ratio)
		// Conversion preserves value: the produced units carry the consumed
		// units' total cost.
		producedCost := decimal.Zero
		if produced.IsPositive() {
			producedCost = srcBal.UnitCost.Mul(line.Qty).DivRound(produced, 6)
		}
		_, err = ledger.ApplyAdjust(ctx, ldg, ledger.AdjustInput{
			Location: doc.Source,
			ItemID:   line.ConvertToItemID,
			Status:   ledger.StatusOnHand,
			Delta:    produced,
			UnitCost: producedCost,
			RefType:  refType,
			RefID:    refID,
			ActorID:  actorID,
		})
		return err

	case TypeReceipt:
		_, err := ledger.ApplyAdjust(ctx, ldg, ledger.AdjustInput{
			Location: doc.Destination,
			ItemID:   line.ItemID,
			Status:   lineBucket(line),
			Delta:    line.Qty,
			UnitCost: line.UnitCost,
			RefType:  refType,
			RefID:    refID,
			ActorID:  actorID,
		})
		return err

	case TypeIssue:
		_, err := ledger.ApplyAdjust(ctx, ldg, ledger.AdjustInput{
			Location: doc.Source,
			ItemID:   line.ItemID,
			Status:   lineBucket(line),
			Delta:    line.Qty.Neg(),
			RefType:  refType,
			RefID:    refID,
			ActorID:  actorID,
		})
		return err

	case TypeAdjustment:
		_, err := ledger.ApplyAdjust(ctx, ldg, ledger.AdjustInput{
			Location: doc.Source,
			ItemID:   line.ItemID,
			Status:   lineBucket(line),
			Delta:    line.Qty,
			UnitCost: line.UnitCost,
			RefType:  refType,
			RefID:    refID,
			Note:     doc.Reason,
			ActorID:  actorID,
		})
		return err
	}
	return fmt.Errorf("%w: unhandled type %s", ErrInvalidDocument, doc.Type)
}

// lineBucket is the status bucket a receipt, issue or adjustment line
// targets; ON_HAND unless the line says otherwise.
func lineBucket(line Line) ledger.Status {
	if line.Bucket != "" {
		return line.Bucket
	}
	return ledger.StatusOnHand
}

// sourceBucket is the status bucket a type draws from at its source.
func sourceBucket(t Type) ledger.Status {
	if t == TypeTruckUnload {
		return ledger.StatusTruckStock
	}
	return ledger.StatusOnHand
}

// destinationBucket is the status bucket a type lands in at its destination.
func destinationBucket(t Type) ledger.Status {
	if t == TypeTruckLoad {
		return ledger.StatusTruckStock
	}
	return ledger.StatusOnHand
}

func lockBalance(ctx context.Context, ldg ledger.TxRepository, loc ledger.LocationRef, itemID int64, status ledger.Status) (ledger.Balance, error) {
	bal, err := ldg.GetBalanceForUpdate(ctx, loc, itemID, status)
	if err != nil && !errors.Is(err, ledger.ErrBalanceNotFound) {
		return ledger.Balance{}, err
	}
	return bal, nil
}

func postedEvent(doc Document, actorID int64) DocumentPostedEvent {
	return DocumentPostedEvent{
		DocumentID: doc.ID,
		Number:     doc.Number,
		Type:       doc.Type,
		RefType:    doc.RefType,
		RefID:      doc.RefID,
		TotalQty:   doc.TotalQty(),
		ActorID:    actorID,
		At:         time.Now().UTC(),
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, doc Document) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_document",
		EntityID: doc.Number,
		Meta: map[string]any{
			"type":   doc.Type,
			"status": doc.Status,
			"lines":  len(doc.Lines),
		},
	})
}
