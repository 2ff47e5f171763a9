package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/platform/pagination"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists finalized order records in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert writes a new order document and fails when the id already exists.
// Inside RunInTx the create joins the surrounding transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	doc := fromDomainOrder(order)
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}

	if tx, ok := transactionFrom(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	doc := fromDomainOrder(order)
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, order.ID, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the order document entirely.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ref); err != nil {
			return pfirestore.WrapError("orders.delete", err)
		}
		return nil
	}
	return r.base.Delete(ctx, orderID)
}

// FindByID loads one order by its internal id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := r.ready(); err != nil {
		return domain.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindBySubmissionID locates the order created from a client submission,
// scoped to the submitting user.
func (r *OrderRepository) FindBySubmissionID(ctx context.Context, userID, submissionID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	submissionID = strings.TrimSpace(submissionID)
	if userID == "" || submissionID == "" {
		return domain.Order{}, errors.New("order repository: user id and submission id are required")
	}
	return r.findOne(ctx, "orders.find_by_submission", func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Where("submissionId", "==", submissionID).Limit(1)
	})
}

// FindByTransactionID locates the order owning a payment transaction id.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Order{}, errors.New("order repository: transaction id is required")
	}
	return r.findOne(ctx, "orders.find_by_transaction", func(q firestore.Query) firestore.Query {
		return q.Where("payment.transactionId", "==", transactionID).Limit(1)
	})
}

// FindByAWB locates the order carrying an air waybill code.
func (r *OrderRepository) FindByAWB(ctx context.Context, awbCode string) (domain.Order, error) {
	awbCode = strings.TrimSpace(awbCode)
	if awbCode == "" {
		return domain.Order{}, errors.New("order repository: awb code is required")
	}
	return r.findOne(ctx, "orders.find_by_awb", func(q firestore.Query) firestore.Query {
		return q.Where("carrier.awbCode", "==", awbCode).Limit(1)
	})
}

// FindByCarrierOrderID locates the order booked under a carrier order id.
func (r *OrderRepository) FindByCarrierOrderID(ctx context.Context, carrierOrderID string) (domain.Order, error) {
	carrierOrderID = strings.TrimSpace(carrierOrderID)
	if carrierOrderID == "" {
		return domain.Order{}, errors.New("order repository: carrier order id is required")
	}
	return r.findOne(ctx, "orders.find_by_carrier_order", func(q firestore.Query) firestore.Query {
		return q.Where("carrier.orderId", "==", carrierOrderID).Limit(1)
	})
}

// List returns orders newest first, optionally scoped by user and status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if err := r.ready(); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var cursorTime time.Time
	var cursorID string
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var err error
		cursorTime, cursorID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
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
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toDomainOrder(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// ListStale returns orders stuck in the given status whose records are older
// than the cutoff, oldest first.
func (r *OrderRepository) ListStale(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(status)).
			Where("createdAt", "<", before.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

// UpdateStatus patches only the lifecycle fields of the order document.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, orderStatus domain.OrderStatus, updatedAt time.Time) error {
	if err := r.ready(); err != nil {
		return err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(orderStatus)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, orderID, updates); err != nil {
		return err
	}
	return nil
}

func (r *OrderRepository) findOne(ctx context.Context, op string, build pfirestore.QueryBuilder) (domain.Order, error) {
	if err := r.ready(); err != nil {
		return domain.Order{}, err
	}
	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "order not found"))
	}
	return toDomainOrder(docs[0].ID, docs[0].Data), nil
}

func (r *OrderRepository) ready() error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return nil
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	SubmissionID    string              `firestore:"submissionId"`
	Status          string              `firestore:"status"`
	Items           []orderItemDocument `firestore:"items"`
	Charges         chargesDocument     `firestore:"charges"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Payment         paymentDocument     `firestore:"payment"`
	Carrier         *carrierDocument    `firestore:"carrier,omitempty"`
	InvoiceURL      string              `firestore:"invoiceUrl,omitempty"`
	Notes           string              `firestore:"notes,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason    string              `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPricePaise"`
	Total     int64  `firestore:"totalPaise"`
}

type chargesDocument struct {
	Subtotal       int64 `firestore:"subtotalPaise"`
	Shipping       int64 `firestore:"shippingPaise"`
	TransactionFee int64 `firestore:"transactionFeePaise"`
	Discount       int64 `firestore:"discountPaise"`
}

type addressDocument struct {
	Name        string `firestore:"name"`
	Phone       string `firestore:"phone"`
	Email       string `firestore:"email,omitempty"`
	Line1       string `firestore:"line1"`
	Line2       string `firestore:"line2,omitempty"`
	City        string `firestore:"city"`
	State       string `firestore:"state"`
	Pincode     string `firestore:"pincode"`
	Country     string `firestore:"country"`
	CompanyName string `firestore:"companyName,omitempty"`
	GSTIN       string `firestore:"gstin,omitempty"`
}

type paymentDocument struct {
	Method         string         `firestore:"method"`
	Provider       string         `firestore:"provider,omitempty"`
	TransactionID  string         `firestore:"transactionId,omitempty"`
	GatewayState   string         `firestore:"gatewayState,omitempty"`
	RedirectURL    string         `firestore:"redirectUrl,omitempty"`
	ConfirmedAt    *time.Time     `firestore:"confirmedAt,omitempty"`
	RefundStatus   string         `firestore:"refundStatus"`
	RefundResponse map[string]any `firestore:"refundResponse,omitempty"`
}

type carrierDocument struct {
	OrderID     string     `firestore:"orderId"`
	ShipmentID  string     `firestore:"shipmentId"`
	AWBCode     string     `firestore:"awbCode,omitempty"`
	CourierName string     `firestore:"courierName,omitempty"`
	BookedAt    *time.Time `firestore:"bookedAt,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		SubmissionID:    strings.TrimSpace(order.SubmissionID),
		Status:          string(order.Status),
		Items:           fromDomainItems(order.Items),
		Charges:         fromDomainCharges(order.Charges),
		ShippingAddress: fromDomainAddress(order.ShippingAddress),
		BillingAddress:  fromDomainAddress(order.BillingAddress),
		Payment:         fromDomainPayment(order.Payment),
		InvoiceURL:      strings.TrimSpace(order.InvoiceURL),
		Notes:           order.Notes,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		CancelReason:    order.CancelReason,
	}
	if order.Carrier != nil {
		doc.Carrier = &carrierDocument{
			OrderID:     order.Carrier.OrderID,
			ShipmentID:  order.Carrier.ShipmentID,
			AWBCode:     order.Carrier.AWBCode,
			CourierName: order.Carrier.CourierName,
			BookedAt:    utcPtr(order.Carrier.BookedAt),
		}
	}
	doc.CancelledAt = utcPtr(order.CancelledAt)
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		SubmissionID:    doc.SubmissionID,
		Status:          domain.OrderStatus(doc.Status),
		Items:           toDomainItems(doc.Items),
		Charges:         toDomainCharges(doc.Charges),
		ShippingAddress: toDomainAddress(doc.ShippingAddress),
		BillingAddress:  toDomainAddress(doc.BillingAddress),
		Payment:         toDomainPayment(doc.Payment),
		InvoiceURL:      doc.InvoiceURL,
		Notes:           doc.Notes,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		CancelledAt:     doc.CancelledAt,
		CancelReason:    doc.CancelReason,
	}
	if doc.Carrier != nil {
		order.Carrier = &domain.CarrierState{
			OrderID:     doc.Carrier.OrderID,
			ShipmentID:  doc.Carrier.ShipmentID,
			AWBCode:     doc.Carrier.AWBCode,
			CourierName: doc.Carrier.CourierName,
			BookedAt:    doc.Carrier.BookedAt,
		}
	}
	return order
}

func fromDomainItems(items []domain.OrderItem) []orderItemDocument {
	if len(items) == 0 {
		return nil
	}
	docs := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      item.Name,
			ImageURL:  strings.TrimSpace(item.ImageURL),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Paise(),
			Total:     item.Total.Paise(),
		})
	}
	return docs
}

func toDomainItems(docs []orderItemDocument) []domain.OrderItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.OrderItem{
			ProductID: doc.ProductID,
			SKU:       doc.SKU,
			Name:      doc.Name,
			ImageURL:  doc.ImageURL,
			Quantity:  doc.Quantity,
			UnitPrice: domain.FromPaise(doc.UnitPrice),
			Total:     domain.FromPaise(doc.Total),
		})
	}
	return items
}

func fromDomainCharges(c domain.Charges) chargesDocument {
	return chargesDocument{
		Subtotal:       c.Subtotal.Paise(),
		Shipping:       c.Shipping.Paise(),
		TransactionFee: c.TransactionFee.Paise(),
		Discount:       c.Discount.Paise(),
	}
}

func toDomainCharges(doc chargesDocument) domain.Charges {
	return domain.Charges{
		Subtotal:       domain.FromPaise(doc.Subtotal),
		Shipping:       domain.FromPaise(doc.Shipping),
		TransactionFee: domain.FromPaise(doc.TransactionFee),
		Discount:       domain.FromPaise(doc.Discount),
	}
}

func fromDomainAddress(a domain.Address) addressDocument {
	return addressDocument{
		Name:        strings.TrimSpace(a.Name),
		Phone:       strings.TrimSpace(a.Phone),
		Email:       strings.TrimSpace(a.Email),
		Line1:       strings.TrimSpace(a.Line1),
		Line2:       strings.TrimSpace(a.Line2),
		City:        strings.TrimSpace(a.City),
		State:       strings.TrimSpace(a.State),
		Pincode:     strings.TrimSpace(a.Pincode),
		Country:     strings.TrimSpace(a.Country),
		CompanyName: strings.TrimSpace(a.CompanyName),
		GSTIN:       strings.TrimSpace(a.GSTIN),
	}
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Name:        doc.Name,
		Phone:       doc.Phone,
		Email:       doc.Email,
		Line1:       doc.Line1,
		Line2:       doc.Line2,
		City:        doc.City,
		State:       doc.State,
		Pincode:     doc.Pincode,
		Country:     doc.Country,
		CompanyName: doc.CompanyName,
		GSTIN:       doc.GSTIN,
	}
}

func fromDomainPayment(p domain.PaymentState) paymentDocument {
	return paymentDocument{
		Method:         string(p.Method),
		Provider:       strings.TrimSpace(p.Provider),
		TransactionID:  strings.TrimSpace(p.TransactionID),
		GatewayState:   strings.TrimSpace(p.GatewayState),
		RedirectURL:    strings.TrimSpace(p.RedirectURL),
		ConfirmedAt:    utcPtr(p.ConfirmedAt),
		RefundStatus:   string(p.RefundStatus),
		RefundResponse: p.RefundResponse,
	}
}

func toDomainPayment(doc paymentDocument) domain.PaymentState {
	return domain.PaymentState{
		Method:         domain.PaymentMethod(doc.Method),
		Provider:       doc.Provider,
		TransactionID:  doc.TransactionID,
		GatewayState:   doc.GatewayState,
		RedirectURL:    doc.RedirectURL,
		ConfirmedAt:    doc.ConfirmedAt,
		RefundStatus:   domain.RefundStatus(doc.RefundStatus),
		RefundResponse: doc.RefundResponse,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func encodeOrderToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK || docID == "" {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return ts, docID, nil
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
