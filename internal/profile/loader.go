package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Decode reads one profile document. Unknown keys are rejected so that a
// misspelled threshold never silently falls back to zero.
func Decode(data []byte) (*domain.RiskProfile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	p := &domain.RiskProfile{Enabled: true}
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return p, nil
}

// LoadFile reads a YAML profile file.
func LoadFile(path string) (*domain.RiskProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order.
// A missing directory yields no profiles.
func LoadDir(dir string) ([]*domain.RiskProfile, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	profiles := make([]*domain.RiskProfile, 0, len(names))
	for _, name := range names {
		p, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ProfileLister is the part of the repository Gather needs.
type ProfileLister interface {
	ListRiskProfiles(ctx context.Context, tenantID string) ([]*domain.RiskProfile, error)
}

// Gather collects the active profile set. Later sources override earlier
// ones by name: built-ins, then files in dir, then stored profiles.
// repo may be nil.
func Gather(ctx context.Context, repo ProfileLister, tenantID, dir string) ([]*domain.RiskProfile, error) {
	byName := make(map[string]*domain.RiskProfile)
	var order []string
	add := func(p *domain.RiskProfile) {
		if _, ok := byName[p.Name]; !ok {
			order = append(order, p.Name)
		}
		byName[p.Name] = p
	}

	for _, p := range Builtins() {
		add(p)
	}

	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, p := range files {
		add(p)
	}

	if repo != nil {
		stored, err := repo.ListRiskProfiles(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored profiles: %w", err)
		}
		for _, p := range stored {
			add(p)
		}
	}

	out := make([]*domain.RiskProfile, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}
