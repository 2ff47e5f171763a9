package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const unprocessedOrderCollection = "unprocessed_orders"

// UnprocessedOrderRepository keeps paid-but-unbooked order snapshots for
// operator resubmission. Documents are keyed by submission id so a retried
// submission overwrites the previous snapshot instead of duplicating it.
type UnprocessedOrderRepository struct {
	base     *pfirestore.BaseRepository[unprocessedOrderDocument]
	provider *pfirestore.Provider
}

// NewUnprocessedOrderRepository constructs a Firestore-backed snapshot repository.
func NewUnprocessedOrderRepository(provider *pfirestore.Provider) (*UnprocessedOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("unprocessed order repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[unprocessedOrderDocument](provider, unprocessedOrderCollection, nil, nil)
	return &UnprocessedOrderRepository{base: base, provider: provider}, nil
}

// Upsert writes the snapshot, replacing any previous record for the same
// submission. Inside RunInTx the write joins the surrounding transaction.
func (r *UnprocessedOrderRepository) Upsert(ctx context.Context, record domain.UnprocessedOrder) error {
	if err := r.ready(); err != nil {
		return err
	}
	docID := strings.TrimSpace(record.SubmissionID)
	if docID == "" {
		docID = strings.TrimSpace(record.ID)
	}
	if docID == "" {
		return errors.New("unprocessed order repository: submission id is required")
	}

	doc := fromDomainUnprocessed(record)
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("unprocessed_orders.upsert", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, docID, doc); err != nil {
		return err
	}
	return nil
}

// FindBySubmissionID loads the snapshot for a client submission.
func (r *UnprocessedOrderRepository) FindBySubmissionID(ctx context.Context, submissionID string) (domain.UnprocessedOrder, error) {
	if err := r.ready(); err != nil {
		return domain.UnprocessedOrder{}, err
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return domain.UnprocessedOrder{}, errors.New("unprocessed order repository: submission id is required")
	}

	doc, err := r.base.Get(ctx, submissionID)
	if err != nil {
		return domain.UnprocessedOrder{}, err
	}
	return toDomainUnprocessed(doc.ID, doc.Data), nil
}

// Delete removes the snapshot by document id.
func (r *UnprocessedOrderRepository) Delete(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("unprocessed order repository: id is required")
	}
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(ref); err != nil {
			return pfirestore.WrapError("unprocessed_orders.delete", err)
		}
		return nil
	}
	return r.base.Delete(ctx, id)
}

// DeleteBySubmissionID removes the snapshot once the order books successfully.
// Missing snapshots are not an error.
func (r *UnprocessedOrderRepository) DeleteBySubmissionID(ctx context.Context, submissionID string) error {
	err := r.Delete(ctx, submissionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
	}
	return err
}

// List returns snapshots newest first for the operator review queue.
func (r *UnprocessedOrderRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.UnprocessedOrder], error) {
	if err := r.ready(); err != nil {
		return domain.CursorPage[domain.UnprocessedOrder]{}, err
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var cursorTime time.Time
	var cursorID string
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var err error
		cursorTime, cursorID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.UnprocessedOrder]{}, fmt.Errorf("unprocessed_orders.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursorID != "" {
			q = q.StartAfter(cursorTime, cursorID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.UnprocessedOrder]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.UnprocessedOrder, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toDomainUnprocessed(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.UnprocessedOrder]{Items: items, NextPageToken: nextToken}, nil
}

func (r *UnprocessedOrderRepository) ready() error {
	if r == nil || r.base == nil {
		return errors.New("unprocessed order repository not initialised")
	}
	return nil
}

type unprocessedOrderDocument struct {
	SubmissionID    string              `firestore:"submissionId"`
	UserID          string              `firestore:"userId"`
	OrderNumber     string              `firestore:"orderNumber"`
	Items           []orderItemDocument `firestore:"items"`
	Charges         chargesDocument     `firestore:"charges"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Payment         paymentDocument     `firestore:"payment"`
	FailureStep     string              `firestore:"failureStep"`
	FailureMessage  string              `firestore:"failureMessage"`
	CreatedAt       time.Time           `firestore:"createdAt"`
}

func fromDomainUnprocessed(record domain.UnprocessedOrder) unprocessedOrderDocument {
	return unprocessedOrderDocument{
		SubmissionID:    strings.TrimSpace(record.SubmissionID),
		UserID:          strings.TrimSpace(record.UserID),
		OrderNumber:     strings.TrimSpace(record.OrderNumber),
		Items:           fromDomainItems(record.Items),
		Charges:         fromDomainCharges(record.Charges),
		ShippingAddress: fromDomainAddress(record.ShippingAddress),
		BillingAddress:  fromDomainAddress(record.BillingAddress),
		Payment:         fromDomainPayment(record.Payment),
		FailureStep:     strings.TrimSpace(record.FailureStep),
		FailureMessage:  record.FailureMessage,
		CreatedAt:       record.CreatedAt.UTC(),
	}
}

func toDomainUnprocessed(id string, doc unprocessedOrderDocument) domain.UnprocessedOrder {
	return domain.UnprocessedOrder{
		ID:              id,
		SubmissionID:    doc.SubmissionID,
		UserID:          doc.UserID,
		OrderNumber:     doc.OrderNumber,
		Items:           toDomainItems(doc.Items),
		Charges:         toDomainCharges(doc.Charges),
		ShippingAddress: toDomainAddress(doc.ShippingAddress),
		BillingAddress:  toDomainAddress(doc.BillingAddress),
		Payment:         toDomainPayment(doc.Payment),
		FailureStep:     doc.FailureStep,
		FailureMessage:  doc.FailureMessage,
		CreatedAt:       doc.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.UnprocessedOrderRepository = (*UnprocessedOrderRepository)(nil)
