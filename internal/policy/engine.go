package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/attr"
)

// Evaluator is consulted by the decision engine.
type Evaluator interface {
	Evaluate(ctx context.Context, vars attr.Bag) (Outcome, error)
}

type compiledRule struct {
	Rule
	expr *Expression
}

type compiledPolicy struct {
	Policy
	rules []compiledRule
}

// compile checks every rule condition. Inactive rules are compiled too so a
// broken rule cannot be stored and switched on later.
func compile(p Policy) (compiledPolicy, error) {
	cp := compiledPolicy{Policy: p.clone(), rules: make([]compiledRule, 0, len(p.Rules))}
	for _, r := range p.Rules {
		x, err := Compile(r.Condition)
		if err != nil {
			return compiledPolicy{}, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		cp.rules = append(cp.rules, compiledRule{Rule: r, expr: x})
	}
	return cp, nil
}

// Engine holds the compiled policy set. Policies are evaluated in id order
// and rules in declaration order.
type Engine struct {
	mu       sync.RWMutex
	policies []compiledPolicy

	clock  clockwork.Clock
	logger *zap.Logger
}

// NewEngine creates an empty engine.
func NewEngine(clock clockwork.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{clock: clock, logger: logger}
}

// Load replaces the policy set. Nothing changes if any policy fails to compile.
func (e *Engine) Load(policies []Policy) error {
	set := make([]compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compile(p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		set = append(set, cp)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].ID < set[j].ID })

	e.mu.Lock()
	e.policies = set
	e.mu.Unlock()
	return nil
}

// put inserts or replaces one compiled policy.
func (e *Engine) put(cp compiledPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]compiledPolicy, 0, len(e.policies)+1)
	for _, existing := range e.policies {
		if existing.ID != cp.ID {
			next = append(next, existing)
		}
	}
	next = append(next, cp)
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	e.policies = next
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]compiledPolicy, 0, len(e.policies))
	for _, existing := range e.policies {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	e.policies = next
}

// Len returns the number of loaded policies.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

// Evaluate runs every active rule of every active policy against vars. The
// first matching deny rule ends evaluation. A rule that cannot be evaluated
// aborts with an error wrapping ErrEvaluation.
func (e *Engine) Evaluate(ctx context.Context, vars attr.Bag) (Outcome, error) {
	e.mu.RLock()
	set := e.policies
	e.mu.RUnlock()

	now := e.clock.Now().UTC()
	var out Outcome
	for _, p := range set {
		if !p.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		for _, r := range p.rules {
			if !r.IsActive {
				continue
			}
			ok, err := r.expr.Eval(vars, now)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy %s rule %s: %w", p.ID, r.ID, err)
			}
			if !ok {
				continue
			}

			m := Match{
				PolicyID:    p.ID,
				RuleID:      r.ID,
				Action:      r.Action,
				Severity:    r.Severity,
				Message:     r.Message,
				Enforcement: p.EnforcementLevel,
			}
			out.Matches = append(out.Matches, m)
			switch r.Action {
			case ActionDeny:
				out.Deny = &m
				return out, nil
			case ActionMFARequired:
				out.RequiresMFA = true
			case ActionRequireApproval:
				out.RequiresApproval = true
			case ActionLogOnly:
				e.logger.Info("Policy rule matched",
					zap.String("policy_id", p.ID),
					zap.String("rule_id", r.ID),
					zap.String("severity", string(r.Severity)),
					zap.String("message", r.Message))
			}
		}
	}
	return out, nil
}
