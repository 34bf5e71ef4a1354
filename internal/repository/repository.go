// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
)

// ErrOpenCaseExists is returned when inserting a case would violate the
// one-open-case-per-source invariant.
var ErrOpenCaseExists = errors.New("an open case already exists for this source")

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

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
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

const openStatuses = `('detected', 'investigating')`

// InsertCase stores a new fraud case. The one-open-case-per-source check
// runs inside the same transaction as the insert so concurrent evaluations
// of the same source cannot both create a case.
func (r *SQLRepository) InsertCase(ctx context.Context, c *domain.FraudCase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT id FROM fraud_cases
		WHERE domain = ? AND location = ? AND source_ref = ?
		  AND status IN `+openStatuses+`
		LIMIT 1
	`), string(c.Domain), c.Location, c.SourceRef).Scan(&existing)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrOpenCaseExists, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	parties, _ := json.Marshal(c.InvolvedParties)
	evidence, _ := json.Marshal(c.Evidence)
	actions, _ := json.Marshal(c.RecommendedActions)

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO fraud_cases (
			id, domain, confidence, severity, location, source_ref,
			involved_parties, evidence, estimated_loss, status,
			recommended_actions, created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		c.ID, string(c.Domain), c.Confidence, string(c.Severity),
		c.Location, c.SourceRef,
		string(parties), string(evidence), c.EstimatedLoss, string(c.Status),
		string(actions), c.CreatedAt, c.UpdatedAt, c.ClosedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const caseColumns = `
	id, domain, confidence, severity, location, source_ref,
	involved_parties, evidence, estimated_loss, status,
	recommended_actions, created_at, updated_at, closed_at
`

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, id string) (*domain.FraudCase, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+caseColumns+` FROM fraud_cases WHERE id = ?
	`), id)

	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// FindOpenCase returns the open case for a (domain, location, sourceRef)
// triple, or domain.ErrNotFound when none exists.
func (r *SQLRepository) FindOpenCase(ctx context.Context, d domain.DomainType, location, sourceRef string) (*domain.FraudCase, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+caseColumns+` FROM fraud_cases
		WHERE domain = ? AND location = ? AND source_ref = ?
		  AND status IN `+openStatuses+`
		LIMIT 1
	`), string(d), location, sourceRef)

	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// AppendCaseEvidence adds evidence entries to an existing case and raises
// its severity, inside one transaction.
func (r *SQLRepository) AppendCaseEvidence(ctx context.Context, id string, evidence []domain.Evidence, severity domain.Severity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT evidence FROM fraud_cases WHERE id = ?
	`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}

	var existing []domain.Evidence
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("failed to parse stored evidence for %s: %w", id, err)
		}
	}
	merged, _ := json.Marshal(append(existing, evidence...))

	_, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE fraud_cases
		SET evidence = ?, severity = ?, updated_at = ?
		WHERE id = ?
	`), string(merged), string(severity), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateCaseStatus sets a case's status. Moves to confirmed/false_positive
// also record the adjudication outcome, which survives the later close.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, id string, status domain.CaseStatus, closedAt *time.Time) error {
	query := `
		UPDATE fraud_cases
		SET status = ?, updated_at = ?, closed_at = ?
		WHERE id = ?
	`
	args := []any{string(status), time.Now().UTC(), closedAt, id}

	if status == domain.StatusConfirmed || status == domain.StatusFalsePositive {
		query = `
			UPDATE fraud_cases
			SET status = ?, outcome = ?, updated_at = ?, closed_at = ?
			WHERE id = ?
		`
		args = []any{string(status), string(status), time.Now().UTC(), closedAt, id}
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("case %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListCases retrieves cases filtered by status (empty for all) created
// since the given time (zero for all), newest first.
func (r *SQLRepository) ListCases(ctx context.Context, status domain.CaseStatus, since time.Time) ([]*domain.FraudCase, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE 1 = 1`
	var args []any

	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FraudCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountOutcomes returns adjudicated case counts since the given time.
func (r *SQLRepository) CountOutcomes(ctx context.Context, since time.Time) (confirmed, falsePositive int64, err error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT outcome, COUNT(*) FROM fraud_cases
		WHERE outcome IS NOT NULL AND updated_at >= ?
		GROUP BY outcome
	`), since)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return 0, 0, err
		}
		switch domain.CaseStatus(outcome) {
		case domain.StatusConfirmed:
			confirmed = count
		case domain.StatusFalsePositive:
			falsePositive = count
		}
	}
	return confirmed, falsePositive, rows.Err()
}

// SavePattern inserts or updates a known pattern.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.KnownPattern) error {
	indicators, _ := json.Marshal(p.Indicators)

	enabled := 0
	if p.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO known_patterns (
			id, domain, name, description, indicators, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			name = excluded.name,
			description = excluded.description,
			indicators = excluded.indicators,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`),
		p.ID, string(p.Domain), p.Name, p.Description,
		string(indicators), enabled, now, now,
	)
	return err
}

// ListPatterns retrieves enabled patterns, optionally filtered by domain.
func (r *SQLRepository) ListPatterns(ctx context.Context, d domain.DomainType) ([]*domain.KnownPattern, error) {
	query := `
		SELECT id, domain, name, description, indicators, enabled, created_at, updated_at
		FROM known_patterns
		WHERE enabled = 1
	`
	var args []any
	if d != "" {
		query += ` AND domain = ?`
		args = append(args, string(d))
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.KnownPattern
	for rows.Next() {
		var p domain.KnownPattern
		var indicators string
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.Domain, &p.Name, &p.Description,
			&indicators, &enabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(indicators), &p.Indicators); err != nil {
			return nil, fmt.Errorf("failed to parse indicators for pattern %s: %w", p.ID, err)
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// SaveRule inserts or updates a rule configuration.
func (r *SQLRepository) SaveRule(ctx context.Context, rc *domain.RuleConfig) error {
	enabled := 0
	if rc.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rule_configs (
			id, domain, name, description, expression, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`),
		rc.ID, string(rc.Domain), rc.Name, rc.Description,
		rc.Expression, rc.Weight, enabled, now, now,
	)
	return err
}

// ListRules retrieves enabled rules, optionally filtered by domain.
func (r *SQLRepository) ListRules(ctx context.Context, d domain.DomainType) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, domain, name, description, expression, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
	`
	var args []any
	if d != "" {
		query += ` AND domain = ?`
		args = append(args, string(d))
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleConfig
	for rows.Next() {
		var rc domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&rc.ID, &rc.Domain, &rc.Name, &rc.Description,
			&rc.Expression, &rc.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		rc.Enabled = enabled == 1
		rules = append(rules, &rc)
	}
	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (*domain.FraudCase, error) {
	var c domain.FraudCase
	var parties, evidence, actions sql.NullString
	var closedAt sql.NullTime

	err := s.Scan(
		&c.ID, &c.Domain, &c.Confidence, &c.Severity,
		&c.Location, &c.SourceRef,
		&parties, &evidence, &c.EstimatedLoss, &c.Status,
		&actions, &c.CreatedAt, &c.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	if parties.Valid && parties.String != "" {
		json.Unmarshal([]byte(parties.String), &c.InvolvedParties)
	}
	if evidence.Valid && evidence.String != "" {
		json.Unmarshal([]byte(evidence.String), &c.Evidence)
	}
	if actions.Valid && actions.String != "" {
		json.Unmarshal([]byte(actions.String), &c.RecommendedActions)
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}

	return &c, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
