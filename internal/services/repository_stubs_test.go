package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/payments"
	"github.com/northcart/api/internal/repositories"
)

// stubRepoError implements repositories.RepositoryError for in-memory fakes.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundRepoErr(msg string) error    { return stubRepoError{msg: msg, notFound: true} }
func conflictRepoErr(msg string) error    { return stubRepoError{msg: msg, conflict: true} }
func unavailableRepoErr(msg string) error { return stubRepoError{msg: msg, unavailable: true} }

type memOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	clears      []repositories.CartClear
	numberTaken map[string]bool

	createErr error
	numberErr error
	recentErr error
}

var _ repositories.OrderRepository = (*memOrderRepo)(nil)

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders:      make(map[string]domain.Order),
		numberTaken: make(map[string]bool),
	}
}

func (r *memOrderRepo) Create(_ context.Context, order domain.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) CreateClearingCart(_ context.Context, order domain.Order, clear repositories.CartClear) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	r.clears = append(r.clears, clear)
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return notFoundRepoErr("order not found")
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundRepoErr("order not found")
	}
	return order, nil
}

func (r *memOrderRepo) FindBySessionID(_ context.Context, sessionID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.SessionID != "" && order.SessionID == sessionID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundRepoErr("session not found")
}

func (r *memOrderRepo) OrderNumberExists(_ context.Context, orderNumber string) (bool, error) {
	if r.numberErr != nil {
		return false, r.numberErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.numberTaken[orderNumber] {
		return true, nil
	}
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrderRepo) ListRecentActive(_ context.Context, userID string, since time.Time) ([]domain.Order, error) {
	if r.recentErr != nil {
		return nil, r.recentErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID != userID || order.CreatedAt.Before(since) || !order.Status.Active() {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]domain.Cart

	getErr    error
	upsertErr error
}

var _ repositories.CartRepository = (*memCartRepo)(nil)

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]domain.Cart)}
}

func (r *memCartRepo) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	if r.getErr != nil {
		return domain.Cart{}, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, notFoundRepoErr("cart not found")
	}
	return cart, nil
}

func (r *memCartRepo) UpsertCart(_ context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r.upsertErr != nil {
		return domain.Cart{}, r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if expectedUpdate != nil {
		stored, ok := r.carts[cart.UserID]
		if ok && !stored.UpdatedAt.Equal(*expectedUpdate) {
			return domain.Cart{}, conflictRepoErr("cart moved on")
		}
	}
	r.carts[cart.UserID] = cart
	return cart, nil
}

type memProductRepo struct {
	products map[string]domain.Product
	findErr  error
	listErr  error
}

var _ repositories.ProductRepository = (*memProductRepo)(nil)

func newMemProductRepo(products ...domain.Product) *memProductRepo {
	repo := &memProductRepo{products: make(map[string]domain.Product, len(products))}
	for _, product := range products {
		repo.products[product.ID] = product
	}
	return repo
}

func (r *memProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	if r.findErr != nil {
		return domain.Product{}, r.findErr
	}
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFoundRepoErr("product not found")
	}
	return product, nil
}

func (r *memProductRepo) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r.listErr != nil {
		return domain.CursorPage[domain.Product]{}, r.listErr
	}
	items := make([]domain.Product, 0, len(r.products))
	for _, product := range r.products {
		if product.Deleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Category != nil && product.Category != *filter.Category {
			continue
		}
		items = append(items, product)
	}
	return domain.CursorPage[domain.Product]{Items: items}, nil
}

type stubVerifier struct {
	sessions map[string]payments.SessionState
	err      error
}

var _ payments.PaymentVerifier = (*stubVerifier)(nil)

func (v *stubVerifier) RetrieveSession(_ context.Context, handle string) (payments.SessionState, error) {
	if v.err != nil {
		return payments.SessionState{}, v.err
	}
	state, ok := v.sessions[handle]
	if !ok {
		return payments.SessionState{}, payments.ErrSessionNotFound
	}
	return state, nil
}

type captureEvents struct {
	mu       sync.Mutex
	messages []OrderEventMessage
	err      error
}

var _ OrderEventPublisher = (*captureEvents)(nil)

func (p *captureEvents) PublishOrderEvent(_ context.Context, msg OrderEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return "msg-1", nil
}

func (p *captureEvents) events() []OrderEventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderEventMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
