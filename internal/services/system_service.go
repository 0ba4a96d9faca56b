package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/apostella/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemReport is the aggregated health view served by /healthz and /readyz.
type SystemReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	Checks      map[string]repositories.HealthCheck
}

// SystemService reports dependency health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemReport, error)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports and metadata.
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

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemReport, error) {
	if ctx == nil {
		return SystemReport{}, errors.New("system service: context is required")
	}

	collected, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemReport{}, err
	}

	now := s.clock()
	report := SystemReport{
		Status:      collected.Status,
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: ensureTimestamp(collected.GeneratedAt, now),
		Checks:      collected.Checks,
	}
	if report.Checks == nil {
		report.Checks = map[string]repositories.HealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func deriveStatus(checks map[string]repositories.HealthCheck) string {
	if len(checks) == 0 {
		return repositories.HealthStatusOK
	}
	status := repositories.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case repositories.HealthStatusOK, "":
			continue
		case repositories.HealthStatusError:
			return repositories.HealthStatusError
		default:
			status = repositories.HealthStatusDegraded
		}
	}
	return status
}
