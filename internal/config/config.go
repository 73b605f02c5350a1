// Package config loads the service configuration.
//
// Sources, lowest precedence first: tier defaults, an optional YAML file,
// a .env file, then KESTREL_* environment variables. Nested keys map to
// upper-case underscores: repository.sqlite_path is
// KESTREL_REPOSITORY_SQLITE_PATH.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "KESTREL"

// Options controls where Load looks.
type Options struct {
	// File is an optional YAML config file. Missing is an error only when
	// set explicitly.
	File string

	// EnvFiles are dotenv files loaded before reading the environment.
	// Missing files are skipped. Variables already set win.
	EnvFiles []string
}

// Load builds the configuration. KESTREL_TIER=pro starts from the pro tier
// defaults instead of the community ones.
func Load(opts Options) (*domain.Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	base := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"_TIER"), string(domain.TierPro)) {
		base = domain.ProConfig()
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only reaches keys viper already knows about.
	setDefaults(v, "", reflect.ValueOf(base).Elem())

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.File, err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

func validate(cfg *domain.Config) error {
	var problems []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		problems = append(problems, fmt.Sprintf("unknown tier %q", cfg.Tier))
	}
	if cfg.Policy.SARThreshold < 0 || cfg.Policy.SARThreshold > 100 {
		problems = append(problems, "policy.sar_threshold must be within 0..100")
	}
	if cfg.Policy.RepeatEscalation < 0 {
		problems = append(problems, "policy.repeat_escalation must not be negative")
	}
	if cfg.Policy.MinThreshold < 0 || cfg.Policy.MinThreshold > 100 {
		problems = append(problems, "policy.min_threshold must be within 0..100")
	}
	if cfg.Worker.Concurrency < 1 {
		problems = append(problems, "worker.concurrency must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
