// Package engine evaluates connection admission policies.
package engine

import (
	"context"
)

// Input is the document a policy decides on.
type Input struct {
	Identity          string `json:"identity"`
	ActiveConnections int    `json:"active_connections"`
	MaxConnections    int    `json:"max_connections"`
}

// Evaluator decides whether an identity may open another live connection.
// It satisfies registry.AdmissionPolicy through Allow.
type Evaluator interface {
	Allow(ctx context.Context, identity string, active int) (bool, error)
	HealthCheck(ctx context.Context) error
}
