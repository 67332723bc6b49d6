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

	domain "github.com/northcart/api/internal/domain"
	pfirestore "github.com/northcart/api/internal/platform/firestore"
	"github.com/northcart/api/internal/platform/pagination"
	"github.com/northcart/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists immutable order aggregates within Firestore.
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
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Create inserts a new order document. Writing over an existing document ID
// is a conflict, never an overwrite.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, orderToDocument(order)); err != nil {
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

// CreateClearingCart inserts the order and clears the source cart in a single
// transaction. The cart's last update time acts as a compare-and-swap guard:
// a cart modified since checkout read it aborts the whole write, so the order
// insert and the cart clear land together or not at all.
func (r *OrderRepository) CreateClearingCart(ctx context.Context, order domain.Order, clear repositories.CartClear) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	cartUserID := strings.TrimSpace(clear.UserID)
	if cartUserID == "" {
		return errors.New("order repository: cart user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	orderRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	cartRef := client.Collection(cartCollection).Doc(cartUserID)

	clearedAt := clear.ClearedAt.UTC()
	if clearedAt.IsZero() {
		clearedAt = time.Now().UTC()
	}

	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		cartSnap, err := tx.Get(cartRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				// Cart vanished since checkout read it; the order still stands.
				return tx.Create(orderRef, orderToDocument(order))
			}
			return err
		}
		if clear.ExpectedUpdate != nil && !clear.ExpectedUpdate.IsZero() &&
			!cartSnap.UpdateTime.Equal(clear.ExpectedUpdate.UTC()) {
			return status.Error(codes.FailedPrecondition, "cart modified since checkout read")
		}

		if err := tx.Create(orderRef, orderToDocument(order)); err != nil {
			return err
		}
		return tx.Update(cartRef, []firestore.Update{
			{Path: "items", Value: []cartItemDocument{}},
			{Path: "totalItems", Value: 0},
			{Path: "totalAmount", Value: int64(0)},
			{Path: "updatedAt", Value: clearedAt},
		})
	})
}

// Update rewrites a mutable order document after a lifecycle transition.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, orderID, orderToDocument(order))
	return err
}

// FindByID loads one order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc), nil
}

// FindBySessionID returns the order referencing the processor session id, or
// a not-found error. The session id is unique across orders by construction.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Order{}, errors.New("order repository: session id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sessionId", "==", sessionID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_session",
			status.Error(codes.NotFound, "no order for session"))
	}
	return orderFromDocument(docs[0]), nil
}

// OrderNumberExists probes whether any order already carries the number.
func (r *OrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return false, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// ListRecentActive returns the user's orders created at or after since whose
// status still counts as active. Feeds the duplicate-submission guard.
func (r *OrderRepository) ListRecentActive(ctx context.Context, userID string, since time.Time) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("order repository: user id is required")
	}

	activeStatuses := []string{
		string(domain.OrderStatusPending),
		string(domain.OrderStatusPaid),
		string(domain.OrderStatusPreparing),
		string(domain.OrderStatusShipping),
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			Where("status", "in", activeStatuses).
			Where("createdAt", ">=", since.UTC()).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc))
	}
	return orders, nil
}

// List returns a page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, value := range filter.Status {
		if value.Valid() {
			statusFilters = append(statusFilters, string(value))
		}
	}

	userID := strings.TrimSpace(filter.UserID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextCursor := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextCursor = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, orderFromDocument(doc))
	}

	return domain.CursorPage[domain.Order]{
		Items:      items,
		NextCursor: nextCursor,
	}, nil
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("malformed token")
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK || rawTime == "" || docID == "" {
		return time.Time{}, "", errors.New("malformed token")
	}
	tokenTime, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return tokenTime, docID, nil
}

func orderToDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Image:     item.Image,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	doc := orderDocument{
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		SessionID:      order.SessionID,
		Items:          items,
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		ShippingMethod: string(order.ShippingMethod),
		Shipping: shippingInfoDocument{
			RecipientName:   order.Shipping.RecipientName,
			RecipientPhone:  order.Shipping.RecipientPhone,
			Address:         order.Shipping.Address,
			Apartment:       order.Shipping.Apartment,
			City:            order.Shipping.City,
			State:           order.Shipping.State,
			PostalCode:      order.Shipping.PostalCode,
			DeliveryRequest: order.Shipping.DeliveryRequest,
		},
		ItemsTotal:     order.ItemsTotal,
		ShippingFee:    order.ShippingFee,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		PaymentDate:    utcOrNil(order.PaymentDate),
		ShippedAt:      utcOrNil(order.ShippedAt),
		DeliveredAt:    utcOrNil(order.DeliveredAt),
		CancelledAt:    utcOrNil(order.CancelledAt),
		RefundedAt:     utcOrNil(order.RefundedAt),
		TrackingNumber: order.TrackingNumber,
		AdminNotes:     order.AdminNotes,
		CancelReason:   order.CancelReason,
		RefundReason:   order.RefundReason,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}

	switch info := order.PaymentInfo.(type) {
	case domain.CardPaymentInfo:
		if doc.SessionID == "" {
			doc.SessionID = info.SessionID
		}
		doc.PaymentInfo = &paymentInfoDocument{
			Method:          string(domain.PaymentMethodCard),
			SessionID:       info.SessionID,
			PaymentIntentID: info.PaymentIntentID,
			Amount:          info.Amount,
			Currency:        info.Currency,
			ProcessorStatus: info.ProcessorStatus,
		}
	case domain.BankTransferPaymentInfo:
		doc.PaymentInfo = &paymentInfoDocument{
			Method:    string(domain.PaymentMethodBankTransfer),
			PayerName: info.PayerName,
		}
	case domain.CashPaymentInfo:
		doc.PaymentInfo = &paymentInfoDocument{
			Method: string(domain.PaymentMethodCash),
		}
	}

	return doc
}

func orderFromDocument(doc pfirestore.Document[orderDocument]) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Image:     item.Image,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	order := domain.Order{
		ID:             doc.ID,
		OrderNumber:    doc.Data.OrderNumber,
		UserID:         doc.Data.UserID,
		SessionID:      doc.Data.SessionID,
		Items:          items,
		Status:         domain.OrderStatus(doc.Data.Status),
		PaymentMethod:  domain.PaymentMethod(doc.Data.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(doc.Data.PaymentStatus),
		ShippingMethod: domain.ShippingMethod(doc.Data.ShippingMethod),
		Shipping: domain.ShippingInfo{
			RecipientName:   doc.Data.Shipping.RecipientName,
			RecipientPhone:  doc.Data.Shipping.RecipientPhone,
			Address:         doc.Data.Shipping.Address,
			Apartment:       doc.Data.Shipping.Apartment,
			City:            doc.Data.Shipping.City,
			State:           doc.Data.Shipping.State,
			PostalCode:      doc.Data.Shipping.PostalCode,
			DeliveryRequest: doc.Data.Shipping.DeliveryRequest,
		},
		ItemsTotal:     doc.Data.ItemsTotal,
		ShippingFee:    doc.Data.ShippingFee,
		DiscountAmount: doc.Data.DiscountAmount,
		TotalAmount:    doc.Data.TotalAmount,
		PaymentDate:    doc.Data.PaymentDate,
		ShippedAt:      doc.Data.ShippedAt,
		DeliveredAt:    doc.Data.DeliveredAt,
		CancelledAt:    doc.Data.CancelledAt,
		RefundedAt:     doc.Data.RefundedAt,
		TrackingNumber: doc.Data.TrackingNumber,
		AdminNotes:     doc.Data.AdminNotes,
		CancelReason:   doc.Data.CancelReason,
		RefundReason:   doc.Data.RefundReason,
		CreatedAt:      doc.Data.CreatedAt,
		UpdatedAt:      doc.Data.UpdatedAt,
	}

	if info := doc.Data.PaymentInfo; info != nil {
		switch domain.PaymentMethod(info.Method) {
		case domain.PaymentMethodCard:
			order.PaymentInfo = domain.CardPaymentInfo{
				SessionID:       info.SessionID,
				PaymentIntentID: info.PaymentIntentID,
				Amount:          info.Amount,
				Currency:        info.Currency,
				ProcessorStatus: info.ProcessorStatus,
			}
		case domain.PaymentMethodBankTransfer:
			order.PaymentInfo = domain.BankTransferPaymentInfo{PayerName: info.PayerName}
		case domain.PaymentMethodCash:
			order.PaymentInfo = domain.CashPaymentInfo{}
		}
	}

	return order
}

func utcOrNil(ts *time.Time) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	value := ts.UTC()
	return &value
}

type orderDocument struct {
	OrderNumber    string               `firestore:"orderNumber"`
	UserID         string               `firestore:"userId"`
	SessionID      string               `firestore:"sessionId,omitempty"`
	Items          []orderItemDocument  `firestore:"items"`
	Status         string               `firestore:"status"`
	PaymentMethod  string               `firestore:"paymentMethod"`
	PaymentStatus  string               `firestore:"paymentStatus"`
	PaymentInfo    *paymentInfoDocument `firestore:"paymentInfo,omitempty"`
	ShippingMethod string               `firestore:"shippingMethod"`
	Shipping       shippingInfoDocument `firestore:"shipping"`
	ItemsTotal     int64                `firestore:"itemsTotal"`
	ShippingFee    int64                `firestore:"shippingFee"`
	DiscountAmount int64                `firestore:"discountAmount"`
	TotalAmount    int64                `firestore:"totalAmount"`
	PaymentDate    *time.Time           `firestore:"paymentDate,omitempty"`
	ShippedAt      *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time           `firestore:"cancelledAt,omitempty"`
	RefundedAt     *time.Time           `firestore:"refundedAt,omitempty"`
	TrackingNumber string               `firestore:"trackingNumber,omitempty"`
	AdminNotes     string               `firestore:"adminNotes,omitempty"`
	CancelReason   string               `firestore:"cancelReason,omitempty"`
	RefundReason   string               `firestore:"refundReason,omitempty"`
	CreatedAt      time.Time            `firestore:"createdAt"`
	UpdatedAt      time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	SKU       string `firestore:"sku,omitempty"`
	Image     string `firestore:"image,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Subtotal  int64  `firestore:"subtotal"`
	Color     string `firestore:"color,omitempty"`
	Size      string `firestore:"size,omitempty"`
}

type paymentInfoDocument struct {
	Method          string `firestore:"method"`
	SessionID       string `firestore:"sessionId,omitempty"`
	PaymentIntentID string `firestore:"paymentIntentId,omitempty"`
	Amount          int64  `firestore:"amount,omitempty"`
	Currency        string `firestore:"currency,omitempty"`
	ProcessorStatus string `firestore:"processorStatus,omitempty"`
	PayerName       string `firestore:"payerName,omitempty"`
}

type shippingInfoDocument struct {
	RecipientName   string `firestore:"recipientName"`
	RecipientPhone  string `firestore:"recipientPhone"`
	Address         string `firestore:"address"`
	Apartment       string `firestore:"apartment,omitempty"`
	City            string `firestore:"city,omitempty"`
	State           string `firestore:"state,omitempty"`
	PostalCode      string `firestore:"postalCode,omitempty"`
	DeliveryRequest string `firestore:"deliveryRequest,omitempty"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
