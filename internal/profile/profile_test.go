package profile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
)

func TestBuiltins_Validate(t *testing.T) {
	for _, p := range profile.Builtins() {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Validate())
			assert.True(t, p.Enabled)
		})
	}
}

func TestBuiltins_FreshCopies(t *testing.T) {
	a := profile.GenericUSDProfile()
	a.Weights[domain.RuleStructuring] = 1
	a.HighRiskCountries[0] = "US"

	b := profile.GenericUSDProfile()
	assert.Equal(t, 40, b.Weights[domain.RuleStructuring])
	assert.Equal(t, "KP", b.HighRiskCountries[0])
}

func TestDecode_ProfileFile(t *testing.T) {
	p, err := profile.LoadFile(filepath.Join("testdata", "uk-gbp.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "uk-gbp", p.Name)
	assert.Equal(t, "GBP", p.ReferenceCurrency)
	assert.True(t, p.Enabled, "enabled defaults to true")
	assert.True(t, p.ConversionRates["USD"].Equal(decimal.RequireFromString("0.79")))
	require.Len(t, p.AmountTiers, 3)
	assert.Equal(t, domain.TierCritical, p.AmountTiers[0].Name)
	assert.True(t, p.AmountTiers[0].Min.Equal(decimal.NewFromInt(80000)))
	assert.True(t, p.Structuring.Max.Equal(decimal.RequireFromString("9999.99")))
	assert.Equal(t, 48, p.Structuring.WindowHours)
	assert.Equal(t, 10, p.Velocity.Extreme.MinCount)
	assert.Equal(t, "SAR Required - High Risk", p.Classification.High.Label)
	assert.NotEmpty(t, p.Cash.Expression)
	require.NoError(t, p.Validate())
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := profile.Decode([]byte("name: x\nversion: \"1\"\nstructuring:\n  treshold: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treshold")
}

func TestDecode_ExplicitlyDisabled(t *testing.T) {
	p, err := profile.Decode([]byte("name: paused\nversion: \"1\"\nenabled: false\n"))
	require.NoError(t, err)
	assert.False(t, p.Enabled)
}

func TestLoadDir(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		profiles, err := profile.LoadDir(filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.Empty(t, profiles)
	})

	t.Run("sorted yaml and yml only", func(t *testing.T) {
		profiles, err := profile.LoadDir("testdata")
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, "generic-usd", profiles[0].Name)
		assert.Equal(t, "uk-gbp", profiles[1].Name)
	})

	t.Run("bad file fails the load", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [unclosed"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

		_, err := profile.LoadDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yaml")
	})
}

type fakeLister struct {
	profiles []*domain.RiskProfile
	err      error
}

func (f fakeLister) ListRiskProfiles(_ context.Context, _ string) ([]*domain.RiskProfile, error) {
	return f.profiles, f.err
}

func TestGather_OverrideOrder(t *testing.T) {
	stored := profile.IndiaINRProfile()
	stored.Version = "9.9.9"

	profiles, err := profile.Gather(context.Background(), fakeLister{profiles: []*domain.RiskProfile{stored}}, "default", "testdata")
	require.NoError(t, err)

	byName := map[string]*domain.RiskProfile{}
	for _, p := range profiles {
		byName[p.Name] = p
	}
	require.Len(t, byName, 3)
	assert.Equal(t, "2.0.0-test", byName[profile.GenericUSD].Version, "file overrides built-in")
	assert.Equal(t, "9.9.9", byName[profile.IndiaINR].Version, "stored overrides built-in")
	assert.Contains(t, byName, "uk-gbp")
	assert.Equal(t, profile.GenericUSD, profiles[0].Name, "built-ins keep their position")
}

func TestGather_RepositoryError(t *testing.T) {
	_, err := profile.Gather(context.Background(), fakeLister{err: errors.New("db down")}, "default", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRegistry_ReloadAndResolve(t *testing.T) {
	reg := profile.NewRegistry(profile.GenericUSD)
	require.NoError(t, reg.Reload(profile.Builtins()))
	assert.Equal(t, 2, reg.Count())

	ev, err := reg.Resolve("", "inr")
	require.NoError(t, err)
	assert.Equal(t, profile.IndiaINR, ev.Profile().Name)

	ev, err = reg.Resolve("", "JPY")
	require.NoError(t, err)
	assert.Equal(t, profile.GenericUSD, ev.Profile().Name, "unknown currency falls back to default")

	ev, err = reg.Resolve(profile.IndiaINR, "USD")
	require.NoError(t, err)
	assert.Equal(t, profile.IndiaINR, ev.Profile().Name, "name wins over currency")

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, profile.GenericUSD, list[0].Name)
	assert.Equal(t, profile.IndiaINR, list[1].Name)
}

func TestRegistry_ReloadIsAllOrNothing(t *testing.T) {
	reg := profile.NewRegistry(profile.GenericUSD)
	require.NoError(t, reg.Reload(profile.Builtins()))

	broken := profile.GenericUSDProfile()
	broken.Name = "broken"
	broken.Classification.Low.Cutoff = 99

	err := reg.Reload([]*domain.RiskProfile{profile.GenericUSDProfile(), broken})
	require.Error(t, err)
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "broken", ce.Profile)

	assert.Equal(t, 2, reg.Count(), "previous set stays loaded")
	_, err = reg.Get(profile.IndiaINR)
	assert.NoError(t, err)
}

func TestRegistry_SkipsDisabled(t *testing.T) {
	off := profile.IndiaINRProfile()
	off.Enabled = false

	reg := profile.NewRegistry(profile.GenericUSD)
	require.NoError(t, reg.Reload([]*domain.RiskProfile{profile.GenericUSDProfile(), off}))
	assert.Equal(t, 1, reg.Count())
	_, err := reg.Get(profile.IndiaINR)
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)
}

func TestRegistry_EvaluatorsAreIsolatedFromInput(t *testing.T) {
	p := profile.GenericUSDProfile()
	reg := profile.NewRegistry(profile.GenericUSD)
	require.NoError(t, reg.Reload([]*domain.RiskProfile{p}))

	p.Weights[domain.RuleCriticalAmount] = 0

	ev, err := reg.Get(profile.GenericUSD)
	require.NoError(t, err)
	assert.Equal(t, 40, ev.Profile().Weights[domain.RuleCriticalAmount])
}
