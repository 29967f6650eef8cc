package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"social-notify/backend/internal/eventbus"
)

// State is the lifecycle position of a connection.
type State int32

const (
	// Connecting covers transport accept up to successful registration.
	Connecting State = iota
	Registered
	// Terminated is final.
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Registered:
		return "registered"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Registration is the registry's handle on one live connection.
type Registration struct {
	ID        string
	Identity  string
	CreatedAt time.Time

	state     atomic.Int32
	transport Transport
	sub       *eventbus.Subscription
	registry  *Registry

	once  sync.Once
	stop  chan struct{}
	done  chan struct{}
	cause error
}

// State returns the current lifecycle state.
func (reg *Registration) State() State { return State(reg.state.Load()) }

// Done is closed once the registration has terminated and released its resources.
func (reg *Registration) Done() <-chan struct{} { return reg.done }

// Err returns the termination cause after Done is closed: nil for an explicit deregister,
// ErrDisconnected for a peer disconnect, or an error wrapping ErrTransport.
func (reg *Registration) Err() error {
	select {
	case <-reg.done:
		return reg.cause
	default:
		return nil
	}
}

// Deregister terminates the registration. Safe to call concurrently and more than once.
func (reg *Registration) Deregister() { reg.registry.Deregister(reg) }

// Wait blocks until the registration terminates or ctx ends.
func (reg *Registration) Wait(ctx context.Context) error {
	select {
	case <-reg.done:
		return reg.cause
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CapPolicy admits a connection while the identity has fewer than Max active ones.
type CapPolicy struct {
	Max int
}

// Allow implements AdmissionPolicy.
func (p CapPolicy) Allow(_ context.Context, _ string, active int) (bool, error) {
	return p.Max <= 0 || active < p.Max, nil
}
