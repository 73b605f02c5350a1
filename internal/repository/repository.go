// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record changed concurrently")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveCase upserts a case with tenant isolation.
func (r *SQLRepository) SaveCase(ctx context.Context, tenantID string, c *domain.CaseRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if c == nil || c.Data.CaseID == "" {
		return fmt.Errorf("%w: case id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("failed to encode case: %w", err)
	}

	now := time.Now().UTC()
	created := c.CreatedAt.UTC()
	if c.CreatedAt.IsZero() {
		created = now
	}

	query := `
		INSERT INTO cases (
			id, tenant_id, customer_id, status, profile, data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			customer_id = excluded.customer_id,
			status = excluded.status,
			profile = excluded.profile,
			data = excluded.data,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.Data.CaseID, tenantID, c.Data.Customer.ID, c.Status, c.Profile,
		string(data), created, now,
	)
	return err
}

const caseColumns = `tenant_id, status, profile, data, created_at, updated_at`

func scanCase(scan func(dest ...any) error) (*domain.CaseRecord, error) {
	var c domain.CaseRecord
	var data string
	if err := scan(&c.TenantID, &c.Status, &c.Profile, &data, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
		return nil, fmt.Errorf("failed to parse case: %w", err)
	}
	return &c, nil
}

// GetCase retrieves a case by ID with tenant isolation. Deleted cases are
// not found.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.CaseRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + `
		FROM cases
		WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", caseID, err)
	}
	return c, nil
}

// Case listing page sizes.
const (
	defaultCaseLimit = 50
	maxCaseLimit     = 500
)

// ListCases returns a tenant's cases, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.CaseRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = defaultCaseLimit
	}
	limit = min(limit, maxCaseLimit)

	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id = ? AND deleted_at IS NULL`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := []*domain.CaseRecord{}
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateCaseStatus moves a case from one status to another. The update
// only applies while the stored status is still from; otherwise it fails
// with ErrConflict.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, tenantID string, caseID string, from, to string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if caseID == "" || to == "" {
		return fmt.Errorf("%w: case id and status are required", ErrInvalidInput)
	}

	query := `
		UPDATE cases
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), to, time.Now().UTC(), tenantID, caseID, from)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	current, err := r.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: case %s is %s, not %s", ErrConflict, caseID, current.Status, from)
}

// DeleteCase soft-deletes a case. Its assessments are kept.
func (r *SQLRepository) DeleteCase(ctx context.Context, tenantID string, caseID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE cases
		SET deleted_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.rebind(query), now, now, tenantID, caseID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAssessment stores an assessment record with tenant isolation.
// Records are immutable; saving an existing ID fails.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	requiresSAR := 0
	if rec.Decision.RequiresSAR {
		requiresSAR = 1
	}
	created := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		created = time.Now().UTC()
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, case_id, customer_id, profile, score, risk_level,
			status, requires_sar, assessment, decision, trace_id, total_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.CaseID, rec.CustomerID, rec.Assessment.Profile,
		rec.Assessment.AggregatedRiskScore, string(rec.Assessment.RiskLevel),
		rec.Decision.Status, requiresSAR, string(body), string(decision),
		rec.TraceID, rec.TotalMs, created,
	)
	return err
}

const assessmentColumns = `id, tenant_id, case_id, customer_id, assessment, decision, trace_id, total_ms, created_at`

func scanAssessment(scan func(dest ...any) error) (*domain.AssessmentRecord, error) {
	var rec domain.AssessmentRecord
	var body, decision string
	var traceID sql.NullString

	if err := scan(
		&rec.ID, &rec.TenantID, &rec.CaseID, &rec.CustomerID,
		&body, &decision, &traceID, &rec.TotalMs, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.TraceID = traceID.String

	if err := json.Unmarshal([]byte(body), &rec.Assessment); err != nil {
		return nil, fmt.Errorf("failed to parse assessment %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(decision), &rec.Decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.AssessmentRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ? AND id = ?`

	rec, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListAssessmentsByCustomer returns a customer's assessments created at or
// after since, newest first.
func (r *SQLRepository) ListAssessmentsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.AssessmentRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + assessmentColumns + `
		FROM assessments
		WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.AssessmentRecord
	for rows.Next() {
		rec, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveRiskProfile upserts a tenant risk profile. Saving re-enables a
// previously deleted profile.
func (r *SQLRepository) SaveRiskProfile(ctx context.Context, tenantID string, p *domain.RiskProfile) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidInput)
	}

	definition, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO risk_profiles (
			name, tenant_id, version, reference_currency, definition, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET
			version = excluded.version,
			reference_currency = excluded.reference_currency,
			definition = excluded.definition,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.Name, tenantID, p.Version, p.ReferenceCurrency, string(definition), enabled, now, now,
	)
	return err
}

func scanProfile(scan func(dest ...any) error) (*domain.RiskProfile, error) {
	var p domain.RiskProfile
	var tenantID, definition string
	var enabled int
	var created, updated time.Time

	if err := scan(&tenantID, &definition, &enabled, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(definition), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile definition: %w", err)
	}
	p.TenantID = tenantID
	p.Enabled = enabled == 1
	p.CreatedAt = created
	p.UpdatedAt = updated
	return &p, nil
}

// GetRiskProfile retrieves an enabled profile by name with tenant isolation.
func (r *SQLRepository) GetRiskProfile(ctx context.Context, tenantID string, name string) (*domain.RiskProfile, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, definition, enabled, created_at, updated_at
		FROM risk_profiles
		WHERE tenant_id = ? AND name = ? AND enabled = 1
	`

	p, err := scanProfile(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListRiskProfiles retrieves all enabled profiles for a tenant, by name.
func (r *SQLRepository) ListRiskProfiles(ctx context.Context, tenantID string) ([]*domain.RiskProfile, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, definition, enabled, created_at, updated_at
		FROM risk_profiles
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.RiskProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteRiskProfile soft-deletes a profile by setting enabled = 0.
func (r *SQLRepository) DeleteRiskProfile(ctx context.Context, tenantID string, name string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE risk_profiles
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND name = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, name)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
