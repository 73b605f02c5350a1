// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Case operations
	SaveCase(ctx context.Context, tenantID string, c *CaseRecord) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*CaseRecord, error)
	ListCases(ctx context.Context, tenantID string, filter CaseFilter) ([]*CaseRecord, error)
	UpdateCaseStatus(ctx context.Context, tenantID string, caseID string, from, to string) error
	DeleteCase(ctx context.Context, tenantID string, caseID string) error

	// Assessment operations
	SaveAssessment(ctx context.Context, tenantID string, rec *AssessmentRecord) error
	GetAssessment(ctx context.Context, tenantID string, id string) (*AssessmentRecord, error)
	ListAssessmentsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*AssessmentRecord, error)

	// Risk profile operations
	SaveRiskProfile(ctx context.Context, tenantID string, p *RiskProfile) error
	GetRiskProfile(ctx context.Context, tenantID string, name string) (*RiskProfile, error)
	ListRiskProfiles(ctx context.Context, tenantID string) ([]*RiskProfile, error)
	DeleteRiskProfile(ctx context.Context, tenantID string, name string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GlobalTenantID owns stored risk profiles, which apply to every tenant.
const GlobalTenantID = "*"
