package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/repositories"
)

// Dependency check names registered by the storefront.
const (
	DependencyFirestore = "firestore"
	DependencyPubSub    = "pubsub"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Critical lists the checks the storefront cannot serve without. A failing critical check
	// marks the report as error; any other failing check only degrades it. Defaults to Firestore.
	Critical []string
}

type systemService struct {
	checks   repositories.HealthRepository
	clock    func() time.Time
	build    BuildInfo
	critical map[string]struct{}
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	names := deps.Critical
	if len(names) == 0 {
		names = []string{DependencyFirestore}
	}
	critical := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			critical[name] = struct{}{}
		}
	}

	return &systemService{
		checks:   deps.HealthRepository,
		clock:    func() time.Time { return clock().UTC() },
		build:    build,
		critical: critical,
	}, nil
}

// HealthReport runs the dependency checks and grades them. Order events are published best
// effort, so a missing topic leaves the API ready but degraded while a failed Firestore ping does not.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	collected, err := s.checks.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.clock()
	report := SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
		Checks:      make(map[string]domain.SystemHealthCheck, len(collected.Checks)),
	}
	if !collected.GeneratedAt.IsZero() {
		report.GeneratedAt = collected.GeneratedAt.UTC()
	}

	for name, check := range collected.Checks {
		check = s.grade(name, check)
		report.Checks[name] = check
		switch check.Status {
		case domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if report.Status == domain.HealthStatusOK {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}
	return report, nil
}

func (s *systemService) grade(name string, check domain.SystemHealthCheck) domain.SystemHealthCheck {
	if check.Status == "" || check.Status == domain.HealthStatusOK {
		check.Status = domain.HealthStatusOK
		return check
	}
	if _, ok := s.critical[name]; ok {
		check.Status = domain.HealthStatusError
	} else {
		check.Status = domain.HealthStatusDegraded
	}
	return check
}
