package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.notify.connection.allow"

// DefaultRegoPolicy admits a connection while the identity is below the configured cap.
// A cap of zero or less means unlimited.
const DefaultRegoPolicy = `package notify.connection

default allow := false

allow if {
	input.max_connections <= 0
}

allow if {
	input.active_connections < input.max_connections
}
`

// ErrUndefined is returned when the policy does not produce a boolean allow decision.
var ErrUndefined = errors.New("policy: allow is undefined")

// OPAEvaluator evaluates admission with an OPA Rego module compiled once at construction.
type OPAEvaluator struct {
	query          rego.PreparedEvalQuery
	maxConnections int
}

// NewOPAEvaluator compiles module (DefaultRegoPolicy when empty) and returns an evaluator that
// passes maxConnections to the policy as input.max_connections.
func NewOPAEvaluator(ctx context.Context, module string, maxConnections int) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"connection.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: q, maxConnections: maxConnections}, nil
}

// NewOPAEvaluatorFromFile reads a Rego module from path. An empty path selects the default policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, maxConnections int) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", maxConnections)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b), maxConnections)
}

// Allow evaluates the policy for identity with active live connections.
func (e *OPAEvaluator) Allow(ctx context.Context, identity string, active int) (bool, error) {
	return e.eval(ctx, Input{Identity: identity, ActiveConnections: active, MaxConnections: e.maxConnections})
}

func (e *OPAEvaluator) eval(ctx context.Context, in Input) (bool, error) {
	input := map[string]interface{}{
		"identity":           in.Identity,
		"active_connections": in.ActiveConnections,
		"max_connections":    in.MaxConnections,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrUndefined
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, ErrUndefined
	}
	return allowed, nil
}

// HealthCheck verifies the compiled policy evaluates to a decision for a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.eval(ctx, Input{Identity: "healthcheck", MaxConnections: e.maxConnections}); err != nil {
		return err
	}
	return nil
}
