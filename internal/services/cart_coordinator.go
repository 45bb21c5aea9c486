package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/repositories"
)

const (
	cartMetricNamespace       = "github.com/chobo-shop/api/internal/services"
	defaultCartQueueSize      = 16
	defaultCartMutationBudget = 10 * time.Second
	maxCartItemQuantity       = domain.MaxCartItemQuantity
)

const (
	cartOpReload         = "reload"
	cartOpAddItem        = "add_item"
	cartOpUpdateQuantity = "update_quantity"
	cartOpRemoveItem     = "remove_item"
	cartOpClear          = "clear_cart"
	cartOpRemoveOrdered  = "remove_ordered"
	cartOpResolve        = "resolve_cart"
	cartOpRefresh        = "refresh"
)

var errCartCoordinatorRepositoryRequired = errors.New("cart service: repository is required")

// CartCoordinatorDeps wires the coordinator of a single user's cart.
type CartCoordinatorDeps struct {
	// UserID is the signed-in user. A blank value yields a coordinator that refuses every operation.
	UserID          string
	Repository      repositories.CartRepository
	Notifier        CartNotifier
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
	MutationTimeout time.Duration
	QueueSize       int
	Metrics         *CartMetrics
}

// CartCoordinator serializes every mutation of one user's cart through a single worker goroutine
// and publishes the store's item list as an immutable snapshot after each completed operation.
type CartCoordinator struct {
	userID      string
	repo        repositories.CartRepository
	incrementer repositories.CartItemIncrementer
	notifier    CartNotifier
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
	timeout     time.Duration
	metrics     *CartMetrics

	jobs     chan cartJob
	snapshot atomic.Pointer[CartSnapshot]
	lastUsed atomic.Int64

	// owned by the worker goroutine
	identity *CartIdentity
	version  uint64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type cartJob struct {
	ctx    context.Context
	op     string
	mutate func(ctx context.Context, cart CartIdentity) error
	reply  chan error
}

// NewCartCoordinator starts the coordinator worker. Callers must Close it.
func NewCartCoordinator(deps CartCoordinatorDeps) (*CartCoordinator, error) {
	if deps.Repository == nil {
		return nil, errCartCoordinatorRepositoryRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	timeout := deps.MutationTimeout
	if timeout <= 0 {
		timeout = defaultCartMutationBudget
	}
	queue := deps.QueueSize
	if queue <= 0 {
		queue = defaultCartQueueSize
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewCartMetrics(nil)
	}

	c := &CartCoordinator{
		userID:   strings.TrimSpace(deps.UserID),
		repo:     deps.Repository,
		notifier: notifier,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		timeout:  timeout,
		metrics:  metrics,
		jobs:     make(chan cartJob, queue),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if inc, ok := deps.Repository.(repositories.CartItemIncrementer); ok {
		c.incrementer = inc
	}
	c.snapshot.Store(&CartSnapshot{})
	c.touch()

	go c.loop()
	return c, nil
}

// UserID returns the user the coordinator is bound to.
func (c *CartCoordinator) UserID() string {
	return c.userID
}

// Snapshot returns a copy of the latest completed refresh.
func (c *CartCoordinator) Snapshot() CartSnapshot {
	return c.snapshot.Load().Clone()
}

// TotalItems folds the quantities of the latest snapshot. It never touches the store.
func (c *CartCoordinator) TotalItems() int {
	return c.snapshot.Load().TotalItems()
}

// Subtotal folds quantity × unit price over the latest snapshot. It never touches the store.
func (c *CartCoordinator) Subtotal() decimal.Decimal {
	return c.snapshot.Load().Subtotal()
}

// Reload re-fetches the item list from the store. A user without a cart record observes an empty snapshot.
func (c *CartCoordinator) Reload(ctx context.Context) error {
	return c.submit(ctx, cartOpReload, nil)
}

// AddItem adds quantity units of productID, merging into an existing row for the same product.
func (c *CartCoordinator) AddItem(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity < 1 {
		return c.refuse(ctx, cartOpAddItem, ErrCartInvalidInput)
	}
	if quantity > maxCartItemQuantity {
		return c.refuse(ctx, cartOpAddItem, errCartQuantityLimit)
	}
	return c.submit(ctx, cartOpAddItem, func(ctx context.Context, cart CartIdentity) error {
		if c.incrementer != nil {
			err := c.incrementer.IncrementItem(ctx, cart.ID, productID, quantity, maxCartItemQuantity)
			if errors.Is(err, repositories.ErrCartQuantityLimit) {
				return errCartQuantityLimit
			}
			return cartRemoteError(cartOpAddItem, err)
		}

		existing, err := c.repo.FindItem(ctx, cart.ID, productID)
		switch {
		case err == nil:
			if existing.Quantity > maxCartItemQuantity-quantity {
				return errCartQuantityLimit
			}
			return cartRemoteError(cartOpAddItem, c.repo.UpdateItemQuantity(ctx, cart.ID, existing.ID, existing.Quantity+quantity))
		case isRepoNotFound(err):
			return cartRemoteError(cartOpAddItem, c.repo.InsertItem(ctx, cart.ID, productID, quantity))
		default:
			return cartRemoteError(cartOpAddItem, err)
		}
	})
}

// UpdateQuantity overwrites the quantity of productID. Quantities <= 0 remove the item.
func (c *CartCoordinator) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return c.refuse(ctx, cartOpUpdateQuantity, ErrCartInvalidInput)
	}
	if quantity > maxCartItemQuantity {
		return c.refuse(ctx, cartOpUpdateQuantity, errCartQuantityLimit)
	}
	return c.submit(ctx, cartOpUpdateQuantity, func(ctx context.Context, cart CartIdentity) error {
		item, err := c.findItem(ctx, cart, productID, cartOpUpdateQuantity)
		if err != nil {
			return err
		}
		if quantity <= 0 {
			return cartRemoteError(cartOpUpdateQuantity, c.repo.DeleteItem(ctx, cart.ID, item.ID))
		}
		return cartRemoteError(cartOpUpdateQuantity, c.repo.UpdateItemQuantity(ctx, cart.ID, item.ID, quantity))
	})
}

// RemoveItem deletes the row for productID.
func (c *CartCoordinator) RemoveItem(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return c.refuse(ctx, cartOpRemoveItem, ErrCartInvalidInput)
	}
	return c.submit(ctx, cartOpRemoveItem, func(ctx context.Context, cart CartIdentity) error {
		item, err := c.findItem(ctx, cart, productID, cartOpRemoveItem)
		if err != nil {
			return err
		}
		return cartRemoteError(cartOpRemoveItem, c.repo.DeleteItem(ctx, cart.ID, item.ID))
	})
}

// ClearCart deletes every item of the cart. Clearing an empty cart succeeds.
func (c *CartCoordinator) ClearCart(ctx context.Context) error {
	return c.submit(ctx, cartOpClear, func(ctx context.Context, cart CartIdentity) error {
		return cartRemoteError(cartOpClear, c.repo.DeleteAllItems(ctx, cart.ID))
	})
}

// RemoveOrdered takes the quantities of lines out of the cart. Units added after the lines were
// read stay in the cart, and a line already gone is skipped.
func (c *CartCoordinator) RemoveOrdered(ctx context.Context, lines []CartItem) error {
	return c.submit(ctx, cartOpRemoveOrdered, func(ctx context.Context, cart CartIdentity) error {
		for _, line := range lines {
			current, err := c.repo.FindItem(ctx, cart.ID, line.ProductID)
			if err != nil {
				if isRepoNotFound(err) {
					continue
				}
				return cartRemoteError(cartOpRemoveOrdered, err)
			}
			if current.Quantity > line.Quantity {
				err = c.repo.UpdateItemQuantity(ctx, cart.ID, current.ID, current.Quantity-line.Quantity)
			} else if err = c.repo.DeleteItem(ctx, cart.ID, current.ID); isRepoNotFound(err) {
				err = nil
			}
			if err != nil {
				return cartRemoteError(cartOpRemoveOrdered, err)
			}
		}
		return nil
	})
}

// Close stops the worker. Queued operations fail with ErrCartClosed; a running one finishes first.
func (c *CartCoordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	<-c.stopped
}

func (c *CartCoordinator) findItem(ctx context.Context, cart CartIdentity, productID, op string) (CartItem, error) {
	item, err := c.repo.FindItem(ctx, cart.ID, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartItem{}, ErrCartItemNotFound
		}
		return CartItem{}, cartRemoteError(op, err)
	}
	return item, nil
}

// refuse rejects an operation before it reaches the queue. Missing authentication wins over bad input.
func (c *CartCoordinator) refuse(ctx context.Context, op string, err error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.userID == "" {
		err = ErrCartUnauthenticated
	}
	c.finish(ctx, op, true, 0, err)
	return err
}

func (c *CartCoordinator) submit(ctx context.Context, op string, mutate func(context.Context, CartIdentity) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.userID == "" {
		return c.refuse(ctx, op, ErrCartUnauthenticated)
	}
	c.touch()

	job := cartJob{ctx: ctx, op: op, mutate: mutate, reply: make(chan error, 1)}
	select {
	case <-c.done:
		return ErrCartClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.jobs <- job:
	}

	select {
	case err := <-job.reply:
		return err
	case <-c.stopped:
		select {
		case err := <-job.reply:
			return err
		default:
			return ErrCartClosed
		}
	}
}

func (c *CartCoordinator) loop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case job := <-c.jobs:
			job.reply <- c.execute(job)
		}
	}
}

func (c *CartCoordinator) drain() {
	for {
		select {
		case job := <-c.jobs:
			job.reply <- ErrCartClosed
		default:
			return
		}
	}
}

func (c *CartCoordinator) execute(job cartJob) error {
	if err := job.ctx.Err(); err != nil {
		return err
	}

	// A started operation runs to completion, including its refresh, within the mutation budget.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), c.timeout)
	defer cancel()

	started := time.Now()
	err := c.run(ctx, job)
	c.finish(ctx, job.op, job.mutate != nil, time.Since(started), err)
	return err
}

func (c *CartCoordinator) run(ctx context.Context, job cartJob) error {
	cart, err := c.resolve(ctx)
	if err != nil {
		if job.mutate == nil && errors.Is(err, ErrNoActiveCart) {
			c.publish(nil, nil, false)
			return nil
		}
		return err
	}

	if job.mutate != nil {
		if err := job.mutate(ctx, cart); err != nil {
			return err
		}
	}

	items, err := c.repo.ListItems(ctx, cart.ID)
	if err != nil {
		if job.mutate != nil {
			previous := c.snapshot.Load()
			c.publish(previous.Identity, previous.Items, true)
		}
		return cartRemoteError(cartOpRefresh, err)
	}
	c.publish(&cart, items, false)
	return nil
}

// resolve finds the cart record of the user once and caches it. It never creates a cart.
func (c *CartCoordinator) resolve(ctx context.Context) (CartIdentity, error) {
	if c.identity != nil {
		return *c.identity, nil
	}
	cart, err := c.repo.FindCartByUser(ctx, c.userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartIdentity{}, ErrNoActiveCart
		}
		return CartIdentity{}, cartRemoteError(cartOpResolve, err)
	}
	if strings.TrimSpace(cart.ID) == "" {
		return CartIdentity{}, ErrNoActiveCart
	}
	c.identity = &cart
	return cart, nil
}

func (c *CartCoordinator) publish(identity *CartIdentity, items []CartItem, stale bool) {
	c.version++
	next := CartSnapshot{
		Identity:  identity,
		Items:     items,
		FetchedAt: c.now(),
		Version:   c.version,
		Stale:     stale,
	}
	next = next.Clone()
	c.snapshot.Store(&next)
}

func (c *CartCoordinator) finish(ctx context.Context, op string, mutation bool, elapsed time.Duration, err error) {
	c.metrics.record(ctx, op, elapsed, err)

	if err != nil {
		c.logger(ctx, "cart.operation_failed", map[string]any{
			"userID": c.userID,
			"op":     op,
			"error":  err,
		})
	}
	if !mutation && err == nil {
		return
	}
	c.notifier.Notify(ctx, c.userID, cartNotice(op, err))
}

func (c *CartCoordinator) touch() {
	c.lastUsed.Store(c.now().UnixNano())
}

func (c *CartCoordinator) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastUsed.Load()))
}

// CartMetrics records cart operation outcomes through OpenTelemetry.
type CartMetrics struct {
	mutations metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewCartMetrics registers the cart instruments on meter, or on the global provider when nil.
func NewCartMetrics(meter metric.Meter) *CartMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(cartMetricNamespace)
	}
	m := &CartMetrics{}
	if counter, err := meter.Int64Counter("cart.mutations",
		metric.WithDescription("Cart operations by outcome"),
	); err == nil {
		m.mutations = counter
	}
	if histogram, err := meter.Float64Histogram("cart.mutation.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of cart operations including the refresh"),
	); err == nil {
		m.latency = histogram
	}
	return m
}

func (m *CartMetrics) record(ctx context.Context, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", cartOutcome(err)),
	)
	if m.mutations != nil {
		m.mutations.Add(ctx, 1, attrs)
	}
	if m.latency != nil && elapsed > 0 {
		m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func cartOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCartUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNoActiveCart):
		return "no_cart"
	case errors.Is(err, ErrCartItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrCartInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "remote_failure"
	}
}
