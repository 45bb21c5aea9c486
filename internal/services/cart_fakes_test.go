package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/repositories"
)

type fakeRepoError struct {
	msg         string
	notFound    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return false }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return &fakeRepoError{msg: what + " not found", notFound: true}
}

// memoryCartStore is an in-memory CartRepository. Each call is atomic on its own,
// so unsynchronised read-then-write callers lose updates.
type memoryCartStore struct {
	mu       sync.Mutex
	carts    map[string]domain.CartIdentity
	items    map[string]map[string]domain.CartItem
	products map[string]domain.ProductSnapshot
	calls    map[string]int
	failures map[string]error
	hooks    map[string]func()
}

func newMemoryCartStore() *memoryCartStore {
	return &memoryCartStore{
		carts:    make(map[string]domain.CartIdentity),
		items:    make(map[string]map[string]domain.CartItem),
		products: make(map[string]domain.ProductSnapshot),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
	}
}

func (s *memoryCartStore) withCart(userID string) *memoryCartStore {
	s.carts[userID] = domain.CartIdentity{ID: userID, UserID: userID}
	s.items[userID] = make(map[string]domain.CartItem)
	return s
}

func (s *memoryCartStore) withProduct(id, name, price string) *memoryCartStore {
	s.products[id] = domain.ProductSnapshot{ID: id, Name: name, UnitPrice: decimal.RequireFromString(price)}
	return s
}

func (s *memoryCartStore) withItem(cartID, productID string, quantity int) *memoryCartStore {
	s.items[cartID][productID] = domain.CartItem{
		ID:        productID,
		ProductID: productID,
		Quantity:  quantity,
		Product:   s.products[productID],
	}
	return s
}

func (s *memoryCartStore) fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *memoryCartStore) hook(method string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[method] = fn
}

func (s *memoryCartStore) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *memoryCartStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *memoryCartStore) quantity(cartID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[cartID][productID].Quantity
}

// enter records the call and returns the injected failure. The hook runs outside the lock.
func (s *memoryCartStore) enter(method string) error {
	s.mu.Lock()
	s.calls[method]++
	hook := s.hooks[method]
	err := s.failures[method]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (s *memoryCartStore) FindCartByUser(_ context.Context, userID string) (domain.CartIdentity, error) {
	if err := s.enter("FindCartByUser"); err != nil {
		return domain.CartIdentity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return domain.CartIdentity{}, notFoundErr("cart")
	}
	return cart, nil
}

func (s *memoryCartStore) EnsureCart(_ context.Context, userID string) (domain.CartIdentity, error) {
	if err := s.enter("EnsureCart"); err != nil {
		return domain.CartIdentity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[userID]; ok {
		return cart, nil
	}
	cart := domain.CartIdentity{ID: userID, UserID: userID, CreatedAt: time.Now()}
	s.carts[userID] = cart
	s.items[userID] = make(map[string]domain.CartItem)
	return cart, nil
}

func (s *memoryCartStore) ListItems(_ context.Context, cartID string) ([]domain.CartItem, error) {
	if err := s.enter("ListItems"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.CartItem, 0, len(s.items[cartID]))
	for _, item := range s.items[cartID] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (s *memoryCartStore) FindItem(_ context.Context, cartID, productID string) (domain.CartItem, error) {
	if err := s.enter("FindItem"); err != nil {
		return domain.CartItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[cartID][productID]
	if !ok {
		return domain.CartItem{}, notFoundErr("item")
	}
	return item, nil
}

func (s *memoryCartStore) InsertItem(_ context.Context, cartID, productID string, quantity int) error {
	if err := s.enter("InsertItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("product %s does not exist", productID)
	}
	if _, exists := s.items[cartID][productID]; exists {
		return errors.New("duplicate cart row")
	}
	s.items[cartID][productID] = domain.CartItem{ID: productID, ProductID: productID, Quantity: quantity, Product: product}
	return nil
}

func (s *memoryCartStore) UpdateItemQuantity(_ context.Context, cartID, itemID string, quantity int) error {
	if err := s.enter("UpdateItemQuantity"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[cartID][itemID]
	if !ok {
		return notFoundErr("item")
	}
	item.Quantity = quantity
	s.items[cartID][itemID] = item
	return nil
}

func (s *memoryCartStore) DeleteItem(_ context.Context, cartID, itemID string) error {
	if err := s.enter("DeleteItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[cartID][itemID]; !ok {
		return notFoundErr("item")
	}
	delete(s.items[cartID], itemID)
	return nil
}

func (s *memoryCartStore) DeleteAllItems(_ context.Context, cartID string) error {
	if err := s.enter("DeleteAllItems"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cartID] = make(map[string]domain.CartItem)
	return nil
}

// incrementingCartStore adds the atomic insert-or-increment capability.
type incrementingCartStore struct {
	*memoryCartStore
}

func (s incrementingCartStore) IncrementItem(_ context.Context, cartID, productID string, delta, limit int) error {
	if err := s.enter("IncrementItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[cartID][productID]
	if !ok {
		product, known := s.products[productID]
		if !known {
			return fmt.Errorf("product %s does not exist", productID)
		}
		item = domain.CartItem{ID: productID, ProductID: productID, Product: product}
	}
	if item.Quantity > limit-delta {
		return repositories.ErrCartQuantityLimit
	}
	item.Quantity += delta
	s.items[cartID][productID] = item
	return nil
}

type stubAuthProvider struct {
	user AuthUser
	ok   bool
}

func (s stubAuthProvider) CurrentUser(context.Context) (AuthUser, bool) { return s.user, s.ok }
func (s stubAuthProvider) IsAuthenticated(context.Context) bool         { return s.ok }

func signedIn(userID string) stubAuthProvider {
	return stubAuthProvider{user: AuthUser{ID: userID, Email: userID + "@example.com"}, ok: true}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return Notice{}
	}
	return n.notices[len(n.notices)-1]
}
