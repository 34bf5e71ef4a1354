package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the persistence boundary for cases and the
// pattern/rule reference tables.
type Repository interface {
	// Case operations. InsertCase enforces the at-most-one-open-case
	// invariant per (domain, location, sourceRef) inside a transaction.
	InsertCase(ctx context.Context, c *FraudCase) error
	GetCase(ctx context.Context, id string) (*FraudCase, error)
	FindOpenCase(ctx context.Context, d DomainType, location, sourceRef string) (*FraudCase, error)
	AppendCaseEvidence(ctx context.Context, id string, evidence []Evidence, severity Severity) error
	UpdateCaseStatus(ctx context.Context, id string, status CaseStatus, closedAt *time.Time) error
	ListCases(ctx context.Context, status CaseStatus, since time.Time) ([]*FraudCase, error)

	// CountOutcomes returns adjudicated case counts since the given time,
	// split into confirmed and false-positive outcomes.
	CountOutcomes(ctx context.Context, since time.Time) (confirmed, falsePositive int64, err error)

	// Pattern reference data.
	SavePattern(ctx context.Context, p *KnownPattern) error
	ListPatterns(ctx context.Context, d DomainType) ([]*KnownPattern, error)

	// Rule reference data.
	SaveRule(ctx context.Context, r *RuleConfig) error
	ListRules(ctx context.Context, d DomainType) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
