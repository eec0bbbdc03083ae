package gates

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL gate rules after the
// built-in gates. Custom gates obey the same discipline: a firing rule
// may only tighten the outcome, never loosen it.
type CustomEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledGate
}

type compiledGate struct {
	config  *domain.GateRuleConfig
	program cel.Program
}

// NewCustomEngine creates the CEL environment for custom gate rules.
// Expressions see the lower-cased message, the amount, the transaction
// type, the post-gate trust score, and the per-signal subscores.
func NewCustomEngine() (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("message", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("payee_new", cel.BoolType),
		cel.Variable("trust", cel.IntType),
		cel.Variable("subscores", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:      env,
		compiled: make(map[string]*compiledGate),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.GateRuleConfig) error {
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and loads one rule.
func (e *CustomEngine) LoadRule(cfg *domain.GateRuleConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[cfg.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules replaces all loaded rules. Disabled rules are skipped.
func (e *CustomEngine) ReloadRules(configs []*domain.GateRuleConfig) error {
	next := make(map[string]*compiledGate, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RuleCount returns the number of loaded rules.
func (e *CustomEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the configurations of the loaded rules.
func (e *CustomEngine) LoadedRules() []*domain.GateRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.GateRuleConfig, 0, len(e.compiled))
	for _, g := range e.compiled {
		rules = append(rules, g.config)
	}
	return rules
}

// Apply evaluates all loaded custom gates against the post-gate result.
// Evaluation errors skip the rule; a broken custom rule must not fail
// scoring.
func (e *CustomEngine) Apply(result domain.AggregationResult, tx *domain.Transaction, message string) domain.AggregationResult {
	e.mu.RLock()
	gatesCopy := make([]*compiledGate, 0, len(e.compiled))
	for _, g := range e.compiled {
		gatesCopy = append(gatesCopy, g)
	}
	e.mu.RUnlock()

	if len(gatesCopy) == 0 {
		return result
	}

	activation := map[string]any{
		"message":   message,
		"amount":    tx.Amount,
		"tx_type":   string(tx.Type),
		"payee_new": tx.PayeeIsNew,
		"trust":     int64(result.TrustScore),
		"subscores": result.Subscores,
	}

	out := &Outcome{
		TrustScore: result.TrustScore,
		Action:     result.Action,
		Reasons:    result.Reasons,
	}

	for _, g := range gatesCopy {
		val, _, err := g.program.Eval(activation)
		if err != nil {
			slog.Warn("custom gate evaluation failed", "rule", g.config.ID, "error", err)
			continue
		}
		fired, ok := val.(types.Bool)
		if !ok || !bool(fired) {
			continue
		}
		out.Tighten(g.config.TrustCap, g.config.Action, g.config.Reason)
	}

	return domain.AggregationResult{
		TrustScore: out.TrustScore,
		Action:     out.Action,
		Reasons:    out.Reasons,
		Subscores:  result.Subscores,
	}
}

func (e *CustomEngine) compile(cfg *domain.GateRuleConfig) (*compiledGate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gate rule config is required")
	}
	if cfg.Reason == "" {
		return nil, fmt.Errorf("gate rule %s: reason is required", cfg.ID)
	}
	if cfg.TrustCap < 0 || cfg.TrustCap > 100 {
		return nil, fmt.Errorf("gate rule %s: trustCap must be in [0,100]", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile gate rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("gate rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program for gate rule %s: %w", cfg.ID, err)
	}

	return &compiledGate{config: cfg, program: program}, nil
}
