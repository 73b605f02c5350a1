package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaCases holds the latest data and review status of each case.
// A set deleted_at hides the case from reads.
const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    status TEXT NOT NULL,
    profile TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    deleted_at TIMESTAMP,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_cases_customer ON cases(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(tenant_id, created_at);
`

// schemaAssessments stores every evaluation of a case. Score, level and
// decision columns are denormalized from the JSON body for querying.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    profile TEXT NOT NULL,
    score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    status TEXT NOT NULL,
    requires_sar INTEGER NOT NULL DEFAULT 0,
    assessment TEXT NOT NULL,
    decision TEXT NOT NULL,
    trace_id TEXT,
    total_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_case ON assessments(tenant_id, case_id);
CREATE INDEX IF NOT EXISTS idx_assessments_customer ON assessments(tenant_id, customer_id, created_at);
`

// schemaRiskProfiles keeps the current definition of each tenant profile.
// Deleting a profile disables it.
const schemaRiskProfiles = `
CREATE TABLE IF NOT EXISTS risk_profiles (
    name TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version TEXT NOT NULL,
    reference_currency TEXT NOT NULL,
    definition TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_risk_profiles_enabled ON risk_profiles(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
		schemaAssessments,
		schemaRiskProfiles,
	}
}
