package repository

// Schema definitions for the Sentinel database.
// Compatible with both SQLite and PostgreSQL.

const schemaFraudCases = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    confidence REAL NOT NULL,
    severity TEXT NOT NULL,
    location TEXT NOT NULL,
    source_ref TEXT NOT NULL,
    involved_parties TEXT,
    evidence TEXT NOT NULL,
    estimated_loss REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    outcome TEXT,
    recommended_actions TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_source ON fraud_cases(domain, location, source_ref, status);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_created ON fraud_cases(created_at);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_outcome ON fraud_cases(outcome, updated_at);
`

const schemaKnownPatterns = `
CREATE TABLE IF NOT EXISTS known_patterns (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    indicators TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_known_patterns_domain ON known_patterns(domain, enabled);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_domain ON rule_configs(domain, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFraudCases,
		schemaKnownPatterns,
		schemaRuleConfigs,
	}
}
