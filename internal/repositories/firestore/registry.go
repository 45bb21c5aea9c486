package firestore

import (
	"context"
	"fmt"
	"time"

	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
	"github.com/chobo-shop/api/internal/repositories"
)

// Registry exposes the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	catalog   *CatalogRepository
	orders    *OrderRepository
	addresses *AddressRepository
	profiles  *ProfileRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of the shared provider. Extra readiness checks (for
// example Pub/Sub) are appended to the Firestore ping.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check:   provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:  provider,
		carts:     carts,
		catalog:   catalog,
		orders:    orders,
		addresses: addresses,
		profiles:  profiles,
		health:    health,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Profiles() repositories.ProfileRepository { return r.profiles }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
