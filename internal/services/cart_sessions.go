package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/chobo-shop/api/internal/repositories"
)

const defaultCartSessionIdleTTL = 30 * time.Minute

var (
	errCartSessionsAuthRequired       = errors.New("cart service: auth provider is required")
	errCartSessionsRepositoryRequired = errors.New("cart service: repository is required")
)

// CartSessionsDeps wires the per-user coordinator registry.
type CartSessionsDeps struct {
	Auth       AuthProvider
	Repository repositories.CartRepository
	Notifier   CartNotifier
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
	// ProvisionOnFirstAccess creates the cart record the first time a user opens a session.
	ProvisionOnFirstAccess bool
	IdleTTL                time.Duration
	MutationTimeout        time.Duration
	QueueSize              int
	Meter                  metric.Meter
}

type cartSessions struct {
	auth      AuthProvider
	repo      repositories.CartRepository
	notifier  CartNotifier
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	provision bool
	idleTTL   time.Duration
	timeout   time.Duration
	queueSize int
	metrics   *CartMetrics

	group singleflight.Group

	mu           sync.Mutex
	coordinators map[string]*CartCoordinator
	closed       bool
}

// NewCartSessions constructs the registry handing out one coordinator per signed-in user.
func NewCartSessions(deps CartSessionsDeps) (CartSessionManager, error) {
	if deps.Auth == nil {
		return nil, errCartSessionsAuthRequired
	}
	if deps.Repository == nil {
		return nil, errCartSessionsRepositoryRequired
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
	idle := deps.IdleTTL
	if idle <= 0 {
		idle = defaultCartSessionIdleTTL
	}

	return &cartSessions{
		auth:         deps.Auth,
		repo:         deps.Repository,
		notifier:     notifier,
		now:          clock,
		logger:       logger,
		provision:    deps.ProvisionOnFirstAccess,
		idleTTL:      idle,
		timeout:      deps.MutationTimeout,
		queueSize:    deps.QueueSize,
		metrics:      NewCartMetrics(deps.Meter),
		coordinators: make(map[string]*CartCoordinator),
	}, nil
}

// Acquire returns the coordinator of the signed-in user, initialising it on first access.
func (s *cartSessions) Acquire(ctx context.Context) (*CartCoordinator, error) {
	user, ok := s.auth.CurrentUser(ctx)
	userID := strings.TrimSpace(user.ID)
	if !ok || userID == "" {
		s.notifier.Notify(ctx, "", cartNotice(cartOpReload, ErrCartUnauthenticated))
		return nil, ErrCartUnauthenticated
	}

	if c, err := s.lookup(userID); c != nil || err != nil {
		return c, err
	}

	result, err, _ := s.group.Do(userID, func() (any, error) {
		if c, err := s.lookup(userID); c != nil || err != nil {
			return c, err
		}
		return s.open(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*CartCoordinator), nil
}

// Release tears down the coordinator of userID, dropping its cached snapshot.
func (s *cartSessions) Release(userID string) {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	c, ok := s.coordinators[userID]
	delete(s.coordinators, userID)
	s.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Sweep closes coordinators idle for longer than the configured TTL and reports how many were closed.
func (s *cartSessions) Sweep(now time.Time) int {
	var expired []*CartCoordinator
	s.mu.Lock()
	for userID, c := range s.coordinators {
		if c.idleSince(now) > s.idleTTL {
			expired = append(expired, c)
			delete(s.coordinators, userID)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		c.Close()
	}
	return len(expired)
}

// Close tears down every coordinator. Later Acquire calls fail with ErrCartClosed.
func (s *cartSessions) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*CartCoordinator, 0, len(s.coordinators))
	for userID, c := range s.coordinators {
		all = append(all, c)
		delete(s.coordinators, userID)
	}
	s.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func (s *cartSessions) lookup(userID string) (*CartCoordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrCartClosed
	}
	c, ok := s.coordinators[userID]
	if !ok {
		return nil, nil
	}
	c.touch()
	return c, nil
}

func (s *cartSessions) open(ctx context.Context, userID string) (*CartCoordinator, error) {
	if s.provision {
		if _, err := s.repo.EnsureCart(ctx, userID); err != nil {
			s.logger(ctx, "cart.provision_failed", map[string]any{
				"userID": userID,
				"error":  err,
			})
			return nil, cartRemoteError("ensure_cart", err)
		}
	}

	c, err := NewCartCoordinator(CartCoordinatorDeps{
		UserID:          userID,
		Repository:      s.repo,
		Notifier:        s.notifier,
		Clock:           s.now,
		Logger:          s.logger,
		MutationTimeout: s.timeout,
		QueueSize:       s.queueSize,
		Metrics:         s.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Reload(ctx); err != nil {
		c.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil, ErrCartClosed
	}
	s.coordinators[userID] = c
	s.mu.Unlock()

	s.logger(ctx, "cart.session_opened", map[string]any{"userID": userID})
	return c, nil
}
