package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/feature"
)

// VelocityGetter returns the rolling-window transaction count for the
// customer on a candidate, exposed to rule expressions as velocity_count.
type VelocityGetter func(ctx context.Context, c *domain.Candidate) (int64, error)

// RuleProvider is the deterministic signal source: CEL expressions over a
// domain's feature names, compiled once at load time. Each violated rule
// contributes one evidence entry; the provider's score is the weighted
// aggregate of all rule scores for the domain.
type RuleProvider struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[domain.DomainType][]*compiledRule
	velocity VelocityGetter
}

type compiledRule struct {
	config  *domain.RuleConfig
	program cel.Program
}

// NewRuleProvider creates a rule provider. velocity may be nil, in which
// case velocity_count evaluates to zero.
func NewRuleProvider(velocity VelocityGetter) (*RuleProvider, error) {
	env, err := cel.NewEnv(
		cel.Variable("f", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("location", cel.StringType),
		cel.Variable("domain", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleProvider{
		env:      env,
		compiled: make(map[domain.DomainType][]*compiledRule),
		velocity: velocity,
	}, nil
}

// Name implements domain.SignalProvider.
func (p *RuleProvider) Name() string { return "rules" }

// ValidateRule compiles a rule without loading it.
func (p *RuleProvider) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := p.compile(cfg)
	return err
}

// LoadRules compiles and loads the enabled subset of configs, replacing any
// previously loaded rules. Used at startup and for hot reload.
func (p *RuleProvider) LoadRules(configs []*domain.RuleConfig) error {
	next := make(map[domain.DomainType][]*compiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		c, err := p.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.Domain] = append(next[cfg.Domain], c)
	}

	p.mu.Lock()
	p.compiled = next
	p.mu.Unlock()

	return nil
}

// RulesCount returns the number of loaded rules across all domains.
func (p *RuleProvider) RulesCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, rules := range p.compiled {
		n += len(rules)
	}
	return n
}

// Score implements domain.SignalProvider. The score is the weighted mean of
// all rule scores for the candidate's domain; rules scoring >= 0.5 count as
// violations and each produce one evidence entry.
func (p *RuleProvider) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	p.mu.RLock()
	rules := p.compiled[c.Domain]
	p.mu.RUnlock()

	if len(rules) == 0 {
		return 0, nil, nil
	}

	var velocityCount int64
	if p.velocity != nil {
		count, err := p.velocity(ctx, c)
		if err == nil {
			velocityCount = count
		}
	}

	activation := map[string]any{
		"f":              feature.Activation(c),
		"velocity_count": velocityCount,
		"location":       c.Location,
		"domain":         string(c.Domain),
	}

	var total, totalWeight float64
	var evidence []domain.Evidence

	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			// A broken rule must not sink the whole signal; skip it.
			continue
		}

		score := toScore(out)
		weight := rule.config.Weight
		if weight <= 0 {
			weight = 1.0
		}

		total += score * weight
		totalWeight += weight

		if score >= 0.5 {
			evidence = append(evidence, domain.Evidence{
				Type:        "rule",
				Description: fmt.Sprintf("rule %q violated (score %.2f)", rule.config.Name, score),
				Source:      "rules:" + rule.config.ID,
				Reliability: 0.9,
				Data: map[string]any{
					"expression": rule.config.Expression,
					"score":      score,
				},
			})
		}
	}

	if totalWeight == 0 {
		return 0, nil, nil
	}

	score := total / totalWeight
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return score, evidence, nil
}

func (p *RuleProvider) compile(cfg *domain.RuleConfig) (*compiledRule, error) {
	ast, issues := p.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
