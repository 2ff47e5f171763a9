package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

// repoFault is the categorised persistence error the in-memory fakes return.
type repoFault struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoFault) Error() string       { return e.msg }
func (e repoFault) IsNotFound() bool    { return e.notFound }
func (e repoFault) IsConflict() bool    { return e.conflict }
func (e repoFault) IsUnavailable() bool { return e.unavailable }

func notFoundFault(format string, args ...any) error {
	return repoFault{msg: fmt.Sprintf(format, args...), notFound: true}
}

var _ repositories.RepositoryError = repoFault{}

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr error
	updateErr error
	deleteErr error
	deleted   []string
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]domain.Order{}}
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return repoFault{msg: "order exists", conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.orders[order.ID]; !ok {
		return notFoundFault("order %s not found", order.ID)
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.orders[orderID]; !ok {
		return notFoundFault("order %s not found", orderID)
	}
	delete(r.orders, orderID)
	r.deleted = append(r.deleted, orderID)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundFault("order %s not found", orderID)
	}
	return order, nil
}

func (r *memOrderRepo) FindBySubmissionID(_ context.Context, userID, submissionID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.UserID == userID && order.SubmissionID == submissionID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundFault("submission %s not found", submissionID)
}

func (r *memOrderRepo) FindByTransactionID(_ context.Context, transactionID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Payment.TransactionID == transactionID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundFault("transaction %s not found", transactionID)
}

func (r *memOrderRepo) FindByAWB(_ context.Context, awbCode string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Carrier != nil && order.Carrier.AWBCode == awbCode {
			return order, nil
		}
	}
	return domain.Order{}, notFoundFault("awb %s not found", awbCode)
}

func (r *memOrderRepo) FindByCarrierOrderID(_ context.Context, carrierOrderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Carrier != nil && order.Carrier.OrderID == carrierOrderID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundFault("carrier order %s not found", carrierOrderID)
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, order.Status) {
			continue
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *memOrderRepo) ListStale(_ context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if order.Status != status || !order.UpdatedAt.Before(before) {
			continue
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return notFoundFault("order %s not found", orderID)
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

// mustOnly returns the single stored order; fails the callers' assertions via
// panic messages when the store is not in the expected shape.
func (r *memOrderRepo) mustOnly() domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.orders) != 1 {
		panic(fmt.Sprintf("expected exactly one stored order, have %d", len(r.orders)))
	}
	for _, order := range r.orders {
		return order
	}
	return domain.Order{}
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type memUnprocessedRepo struct {
	mu      sync.Mutex
	records map[string]domain.UnprocessedOrder
}

func newMemUnprocessedRepo() *memUnprocessedRepo {
	return &memUnprocessedRepo{records: map[string]domain.UnprocessedOrder{}}
}

func (r *memUnprocessedRepo) Upsert(_ context.Context, record domain.UnprocessedOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.SubmissionID] = record
	return nil
}

func (r *memUnprocessedRepo) FindBySubmissionID(_ context.Context, submissionID string) (domain.UnprocessedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[submissionID]
	if !ok {
		return domain.UnprocessedOrder{}, notFoundFault("unprocessed %s not found", submissionID)
	}
	return record, nil
}

func (r *memUnprocessedRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, record := range r.records {
		if record.ID == id {
			delete(r.records, key)
			return nil
		}
	}
	return notFoundFault("unprocessed %s not found", id)
}

func (r *memUnprocessedRepo) DeleteBySubmissionID(_ context.Context, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, submissionID)
	return nil
}

func (r *memUnprocessedRepo) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.UnprocessedOrder], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.UnprocessedOrder
	for _, record := range r.records {
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SubmissionID < items[j].SubmissionID })
	return domain.CursorPage[domain.UnprocessedOrder]{Items: items}, nil
}

func (r *memUnprocessedRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type memProductRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
	sales    map[string]int64
}

func newMemProductRepo(products ...domain.Product) *memProductRepo {
	repo := &memProductRepo{products: map[string]domain.Product{}, sales: map[string]int64{}}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFoundFault("product %s not found", productID)
	}
	return product, nil
}

func (r *memProductRepo) IncrementSales(_ context.Context, productID string, units int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[productID]; !ok {
		// Mirrors the store behaviour: unknown products are skipped silently.
		return nil
	}
	r.sales[productID] += units
	return nil
}

func (r *memProductRepo) salesOf(productID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sales[productID]
}

type memCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemCounterRepo() *memCounterRepo {
	return &memCounterRepo{values: map[string]int64{}}
}

func (r *memCounterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}

func (r *memCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubCarrier struct {
	mu sync.Mutex

	booking    carrier.Booking
	bookingErr error
	bookings   []carrier.CreateOrderRequest

	couriers    []carrier.CourierOption
	couriersErr error

	assignment  carrier.AWBAssignment
	assignErr   error
	assignCalls []string

	tracking    carrier.Tracking
	trackingErr error
	trackedAWBs []string
	trackedIDs  []string

	cancelResult        carrier.CancellationResult
	cancelErr           error
	cancelledShipments  [][]string
	cancelledOrders     [][]string
	document            carrier.DocumentResult
	documentErr         error
	manifested, labeled [][]string
	printed             [][]string
	invoiced            [][]string

	returnBooking carrier.Booking
	returnErr     error
	returns       []carrier.ReturnOrderRequest

	details    carrier.OrderDetails
	detailsErr error
	detailIDs  []string
}

func (c *stubCarrier) CreateOrder(_ context.Context, req carrier.CreateOrderRequest) (carrier.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bookingErr != nil {
		return carrier.Booking{}, c.bookingErr
	}
	c.bookings = append(c.bookings, req)
	return c.booking, nil
}

func (c *stubCarrier) AssignAWB(_ context.Context, shipmentID, courierID string) (carrier.AWBAssignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assignErr != nil {
		return carrier.AWBAssignment{}, c.assignErr
	}
	c.assignCalls = append(c.assignCalls, shipmentID+"/"+courierID)
	return c.assignment, nil
}

func (c *stubCarrier) GetAvailableCouriers(context.Context, carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
	if c.couriersErr != nil {
		return nil, c.couriersErr
	}
	return c.couriers, nil
}

func (c *stubCarrier) TrackByAWB(_ context.Context, awbCode string) (carrier.Tracking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackingErr != nil {
		return carrier.Tracking{}, c.trackingErr
	}
	c.trackedAWBs = append(c.trackedAWBs, awbCode)
	return c.tracking, nil
}

func (c *stubCarrier) TrackByOrderID(_ context.Context, carrierOrderID string) (carrier.Tracking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackingErr != nil {
		return carrier.Tracking{}, c.trackingErr
	}
	c.trackedIDs = append(c.trackedIDs, carrierOrderID)
	return c.tracking, nil
}

func (c *stubCarrier) CancelShipments(_ context.Context, awbCodes []string) (carrier.CancellationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return carrier.CancellationResult{}, c.cancelErr
	}
	c.cancelledShipments = append(c.cancelledShipments, awbCodes)
	return c.cancelResult, nil
}

func (c *stubCarrier) CancelOrders(_ context.Context, carrierOrderIDs []string) (carrier.CancellationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return carrier.CancellationResult{}, c.cancelErr
	}
	c.cancelledOrders = append(c.cancelledOrders, carrierOrderIDs)
	return c.cancelResult, nil
}

func (c *stubCarrier) GenerateManifest(_ context.Context, shipmentIDs []string) (carrier.DocumentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.documentErr != nil {
		return carrier.DocumentResult{}, c.documentErr
	}
	c.manifested = append(c.manifested, shipmentIDs)
	return c.document, nil
}

func (c *stubCarrier) GenerateLabel(_ context.Context, shipmentIDs []string) (carrier.DocumentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.documentErr != nil {
		return carrier.DocumentResult{}, c.documentErr
	}
	c.labeled = append(c.labeled, shipmentIDs)
	return c.document, nil
}

func (c *stubCarrier) GenerateTaxInvoice(_ context.Context, carrierOrderIDs []string) (carrier.DocumentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.documentErr != nil {
		return carrier.DocumentResult{}, c.documentErr
	}
	c.invoiced = append(c.invoiced, carrierOrderIDs)
	return c.document, nil
}

func (c *stubCarrier) PrintManifest(_ context.Context, carrierOrderIDs []string) (carrier.DocumentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.documentErr != nil {
		return carrier.DocumentResult{}, c.documentErr
	}
	c.printed = append(c.printed, carrierOrderIDs)
	return c.document, nil
}

func (c *stubCarrier) CreateReturnOrder(_ context.Context, req carrier.ReturnOrderRequest) (carrier.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.returnErr != nil {
		return carrier.Booking{}, c.returnErr
	}
	c.returns = append(c.returns, req)
	return c.returnBooking, nil
}

func (c *stubCarrier) OrderDetails(_ context.Context, carrierOrderID string) (carrier.OrderDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detailsErr != nil {
		return carrier.OrderDetails{}, c.detailsErr
	}
	c.detailIDs = append(c.detailIDs, carrierOrderID)
	return c.details, nil
}

var _ CarrierGateway = (*stubCarrier)(nil)

type stubPayments struct {
	mu sync.Mutex

	initiation  payments.Initiation
	initiateErr error
	initiations []payments.InitiationRequest
	initiatedBy []string

	status      payments.StatusResult
	statusErr   error
	statusCalls []string
	statusBy    []string

	refund     payments.RefundResult
	refundErr  error
	refunds    []payments.RefundRequest
	refundedBy []string
}

func (p *stubPayments) Initiate(_ context.Context, provider string, req payments.InitiationRequest) (payments.Initiation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initiateErr != nil {
		return payments.Initiation{}, p.initiateErr
	}
	p.initiations = append(p.initiations, req)
	p.initiatedBy = append(p.initiatedBy, provider)
	initiation := p.initiation
	if initiation.Provider == "" {
		initiation.Provider = provider
	}
	return initiation, nil
}

func (p *stubPayments) Status(_ context.Context, provider string, transactionID string) (payments.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls = append(p.statusCalls, transactionID)
	p.statusBy = append(p.statusBy, provider)
	if p.statusErr != nil {
		return payments.StatusResult{}, p.statusErr
	}
	return p.status, nil
}

func (p *stubPayments) Refund(_ context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refundErr != nil {
		return payments.RefundResult{}, p.refundErr
	}
	p.refunds = append(p.refunds, req)
	p.refundedBy = append(p.refundedBy, provider)
	return p.refund, nil
}

var _ PaymentGateway = (*stubPayments)(nil)

type stubInvoices struct {
	mu    sync.Mutex
	url   string
	err   error
	calls []string
}

func (g *stubInvoices) Generate(_ context.Context, order Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.calls = append(g.calls, order.OrderNumber)
	return g.url, nil
}

type stubMailer struct {
	mu   sync.Mutex
	err  error
	sent []Order
}

func (m *stubMailer) SendOrderConfirmation(_ context.Context, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, order)
	return nil
}

type stubEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (e *stubEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *stubEvents) ofType(eventType string) []OrderEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var matched []OrderEvent
	for _, ev := range e.events {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}
