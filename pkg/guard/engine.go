package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Config controls engine construction.
type Config struct {
	// Enabled turns policy evaluation on. A disabled engine allows
	// every operation.
	Enabled bool

	// PolicyDir is an optional directory of operator .rego files loaded
	// in addition to the builtins.
	PolicyDir string
}

// Engine compiles policies once and evaluates them per operation.
type Engine struct {
	mu       sync.RWMutex
	enabled  bool
	policies map[string]*compiledPolicy
	loader   *Loader
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy     Policy
	query      rego.PreparedEvalQuery
	compiledAt time.Time
}

// New creates a guard engine. Builtin policies are compiled immediately;
// operator policies are loaded from cfg.PolicyDir when set.
func New(cfg Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		enabled:  cfg.Enabled,
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "guard").Logger(),
	}
	e.loader = NewLoader(e.logger)

	if !cfg.Enabled {
		e.logger.Info().Msg("Operation guard disabled; all operations allowed")
		return e, nil
	}

	for _, p := range BuiltinPolicies() {
		if err := e.compileAndStore(context.Background(), p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	if cfg.PolicyDir != "" {
		if err := e.LoadDir(context.Background(), cfg.PolicyDir); err != nil {
			return nil, err
		}
	}

	e.logger.Info().
		Int("policies", len(e.policies)).
		Msg("Operation guard ready")

	return e, nil
}

// Check evaluates every policy against the input. A nil or disabled
// engine allows the operation without evaluating anything.
func (e *Engine) Check(ctx context.Context, input *Input) (*Decision, error) {
	if e == nil || !e.enabled {
		return &Decision{Allowed: true, EvaluatedAt: time.Now()}, nil
	}
	if input == nil || input.Operation == "" {
		return nil, fmt.Errorf("guard input requires an operation")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	startTime := time.Now()
	decision := &Decision{
		Allowed:     true,
		EvaluatedAt: startTime,
		Policies:    make([]string, 0, len(e.policies)),
	}

	for name, cp := range e.policies {
		decision.Policies = append(decision.Policies, name)

		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("operation", input.Operation).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					v := e.makeViolation(cp.policy, d)
					if v.Severity == SeverityError {
						decision.Allowed = false
						decision.Violations = append(decision.Violations, v)
					} else {
						decision.Warnings = append(decision.Warnings, v)
					}
				}
			}
		}
	}

	sort.Strings(decision.Policies)

	e.logger.Debug().
		Str("operation", input.Operation).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Guard evaluation completed")

	return decision, nil
}

// LoadDir loads operator policies from a directory, replacing any
// previously loaded operator set. Builtin policies are kept.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	policies, err := e.loader.LoadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.replaceOperatorPolicies(ctx, policies)
}

// Watch re-reads the policy directory whenever a .rego file changes.
func (e *Engine) Watch(ctx context.Context, dir string) error {
	if e == nil || !e.enabled {
		return nil
	}
	return e.loader.Watch(ctx, dir, func(policies []Policy) error {
		return e.replaceOperatorPolicies(ctx, policies)
	})
}

// Close stops the policy directory watcher.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.loader.StopWatching()
}

// Policies returns the names of the policies the engine evaluates.
func (e *Engine) Policies() []string {
	if e == nil || !e.enabled {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// replaceOperatorPolicies swaps the non-builtin policy set.
func (e *Engine) replaceOperatorPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}

	for _, p := range policies {
		if existing, ok := e.policies[p.Name]; ok && existing.policy.Builtin {
			e.logger.Warn().
				Str("policy", p.Name).
				Msg("Operator policy shadows a builtin; skipping")
			continue
		}
		if err := e.compileAndStore(ctx, p); err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Operator policies loaded")

	return nil
}

// compileAndStore prepares a policy's deny query for reuse.
func (e *Engine) compileAndStore(ctx context.Context, policy Policy) error {
	query := fmt.Sprintf("data.%s.deny", packageName(policy.Rego))

	r := rego.New(
		rego.Query(query),
		rego.Module(policy.Name, policy.Rego),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:     policy,
		query:      prepared,
		compiledAt: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled")
	return nil
}

// makeViolation builds a Violation from one entry of a policy's deny set.
func (e *Engine) makeViolation(policy Policy, result interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if v.Severity == "" {
		v.Severity = SeverityError
	}

	switch val := result.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// packageName extracts the package declaration from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "huginbot.guard"
}
