package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/config"
	"github.com/chobo-shop/api/internal/repositories"
)

type emptyRegistry struct {
	closed bool
	health repositories.HealthRepository
}

func (r *emptyRegistry) Close(context.Context) error { r.closed = true; return nil }

func (r *emptyRegistry) Carts() repositories.CartRepository       { return nil }
func (r *emptyRegistry) Catalog() repositories.CatalogRepository   { return nil }
func (r *emptyRegistry) Orders() repositories.OrderRepository      { return nil }
func (r *emptyRegistry) Addresses() repositories.AddressRepository { return nil }
func (r *emptyRegistry) Profiles() repositories.ProfileRepository  { return nil }
func (r *emptyRegistry) Health() repositories.HealthRepository     { return r.health }

type staticHealth struct{}

func (staticHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{}, nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil, Infrastructure{})
	require.Error(t, err)
}

func TestNewContainerSkipsMissingRepositories(t *testing.T) {
	reg := &emptyRegistry{health: staticHealth{}}
	cfg := config.Config{Build: config.BuildConfig{Version: "1.2.3", Environment: "test"}}

	container, err := NewContainer(context.Background(), cfg, reg, Infrastructure{})
	require.NoError(t, err)

	assert.Nil(t, container.Services.Carts)
	assert.Nil(t, container.Services.Checkout)
	assert.Nil(t, container.Services.Catalog)
	require.NotNil(t, container.Services.System)
	report, err := container.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, "test", report.Environment)

	require.NoError(t, container.Close(context.Background()))
	assert.True(t, reg.closed)
}
