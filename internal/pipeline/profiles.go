package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// ReloadProfiles rebuilds the registry from built-ins, the profile
// directory and stored profiles. On failure the previous set stays loaded.
// tenantID is only used to attribute the audit event.
func (s *Service) ReloadProfiles(ctx context.Context, tenantID string) ([]string, error) {
	var lister profile.ProfileLister
	if s.repo != nil {
		lister = s.repo
	}

	profiles, err := profile.Gather(ctx, lister, domain.GlobalTenantID, s.profileDir)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Reload(profiles); err != nil {
		return nil, err
	}

	loaded := s.registry.List()
	names := make([]string, len(loaded))
	for i, p := range loaded {
		names[i] = p.Name
	}
	if s.metrics != nil {
		s.metrics.ProfilesLoaded.Set(float64(len(names)))
	}

	slog.Info("risk profiles loaded", "count", len(names), "profiles", names)
	if s.audit != nil && tenantID != "" {
		if err := s.audit.ProfilesReloaded(ctx, tenantID, names); err != nil {
			slog.Error("audit failed", "error", err)
		}
	}
	return names, nil
}

// SaveProfile validates p and stores it for every tenant. The running
// registry is unchanged until the next ReloadProfiles.
func (s *Service) SaveProfile(ctx context.Context, tenantID, userID string, p *domain.RiskProfile) error {
	if s.repo == nil {
		return errors.New("repository not available")
	}
	if err := s.registry.Validate(p); err != nil {
		return err
	}

	p.Enabled = true
	if err := s.repo.SaveRiskProfile(ctx, domain.GlobalTenantID, p); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.Name, err)
	}
	s.profileChanged(ctx, tenantID, userID, p.Name, "saved")
	return nil
}

// DeleteProfile disables a stored profile. Built-in and file profiles
// cannot be deleted this way.
func (s *Service) DeleteProfile(ctx context.Context, tenantID, userID, name string) error {
	if s.repo == nil {
		return errors.New("repository not available")
	}
	if err := s.repo.DeleteRiskProfile(ctx, domain.GlobalTenantID, name); err != nil {
		return err
	}
	s.profileChanged(ctx, tenantID, userID, name, "deleted")
	return nil
}

func (s *Service) profileChanged(ctx context.Context, tenantID, userID, name, action string) {
	slog.Info("risk profile changed", "profile", name, "action", action, "user_id", userID)
	if s.audit == nil {
		return
	}
	if err := s.audit.ProfileChanged(ctx, tenantID, userID, name, action); err != nil {
		slog.Error("audit failed", "profile", name, "error", err)
	}
}
