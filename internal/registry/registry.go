// Package registry owns the live connections of every recipient identity and pumps bus messages
// into each connection's transport.
package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-notify/backend/internal/eventbus"
	"social-notify/backend/internal/notification/domain"
)

const shardCount = 32

// DefaultMaxPerIdentity is the per-identity connection cap used when none is configured.
const DefaultMaxPerIdentity = 8

// DefaultWriteTimeout bounds a single transport write.
const DefaultWriteTimeout = 10 * time.Second

var (
	// ErrTooManyConnections is returned when the identity is at its cap or the admission policy denies it.
	ErrTooManyConnections = errors.New("registry: too many connections for identity")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("registry: closed")
	// ErrTransport wraps a failed write to a connection's transport.
	ErrTransport = errors.New("registry: transport write failed")
	// ErrDisconnected is the termination cause when the transport signals disconnect.
	ErrDisconnected = errors.New("registry: transport disconnected")
)

// Transport is the write side of a live client connection.
type Transport interface {
	// Write sends one frame. It must honor ctx's deadline.
	Write(ctx context.Context, payload []byte) error
	// Done is closed when the peer disconnects or the transport fails.
	Done() <-chan struct{}
	Close() error
}

// AdmissionPolicy decides whether identity may open another connection while it has active ones.
type AdmissionPolicy interface {
	Allow(ctx context.Context, identity string, active int) (bool, error)
}

// Observer is told about connection lifecycle changes. Methods must not block.
type Observer interface {
	ConnectionRegistered(reg *Registration)
	ConnectionTerminated(reg *Registration, cause error)
	ConnectionRejected(identity string, reason error)
}

// Config holds Registry settings. Zero values select defaults.
type Config struct {
	MaxPerIdentity int
	WriteTimeout   time.Duration
	Policy         AdmissionPolicy
	Observer       Observer
}

// Registry maps recipient identities to their live registrations.
type Registry struct {
	bus            *eventbus.Bus
	shards         [shardCount]shard
	maxPerIdentity int
	writeTimeout   time.Duration
	policy         AdmissionPolicy
	observer       Observer
	log            *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	active atomic.Int64
	pumps  sync.WaitGroup
}

type shard struct {
	mu         sync.Mutex
	identities map[string]map[string]*Registration
}

// New returns a Registry that subscribes registrations on bus.
func New(bus *eventbus.Bus, cfg Config, logger *zap.Logger) *Registry {
	if cfg.MaxPerIdentity <= 0 {
		cfg.MaxPerIdentity = DefaultMaxPerIdentity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		bus:            bus,
		maxPerIdentity: cfg.MaxPerIdentity,
		writeTimeout:   cfg.WriteTimeout,
		policy:         cfg.Policy,
		observer:       cfg.Observer,
		log:            logger.Named("registry"),
		ctx:            ctx,
		cancel:         cancel,
	}
	for i := range r.shards {
		r.shards[i].identities = make(map[string]map[string]*Registration)
	}
	return r
}

func (r *Registry) shardFor(identity string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &r.shards[h.Sum32()%shardCount]
}

// Register binds transport to identity, subscribes it to the identity's topic, and starts its pump.
// On error the transport is left untouched and the caller still owns it.
func (r *Registry) Register(ctx context.Context, identity string, transport Transport) (*Registration, error) {
	identity = domain.NormalizeIdentity(identity)
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if identity == "" || transport == nil {
		return nil, errors.New("registry: identity and transport are required")
	}

	if r.policy != nil {
		allowed, err := r.policy.Allow(ctx, identity, r.CountFor(identity))
		if err != nil {
			r.log.Warn("admission policy failed; falling back to cap", zap.String("identity", identity), zap.Error(err))
		} else if !allowed {
			r.reject(identity, ErrTooManyConnections)
			return nil, ErrTooManyConnections
		}
	}

	reg := &Registration{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
		transport: transport,
		registry:  r,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s := r.shardFor(identity)
	s.mu.Lock()
	// Close may have run while the policy was consulted; it snapshots shards under
	// the same lock, so anything inserted after this check is seen by it.
	if r.closed.Load() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conns := s.identities[identity]
	if len(conns) >= r.maxPerIdentity {
		s.mu.Unlock()
		r.reject(identity, ErrTooManyConnections)
		return nil, ErrTooManyConnections
	}
	if conns == nil {
		conns = make(map[string]*Registration)
		s.identities[identity] = conns
	}
	reg.sub = r.bus.Subscribe(domain.Topic(identity))
	conns[reg.ID] = reg
	reg.state.Store(int32(Registered))
	r.active.Add(1)
	r.pumps.Add(1)
	s.mu.Unlock()

	r.log.Debug("connection registered", zap.String("identity", identity), zap.String("registration_id", reg.ID))
	if r.observer != nil {
		r.observer.ConnectionRegistered(reg)
	}

	go r.pump(reg)
	return reg, nil
}

func (r *Registry) reject(identity string, reason error) {
	r.log.Info("connection rejected", zap.String("identity", identity), zap.Error(reason))
	if r.observer != nil {
		r.observer.ConnectionRejected(identity, reason)
	}
}

// pump forwards messages from the registration's subscription to its transport in receive order.
// It waits on explicit events only: a queue signal, transport disconnect, or stop.
func (r *Registry) pump(reg *Registration) {
	defer r.pumps.Done()
	var cause error
	defer func() { r.terminate(reg, cause) }()

	for {
		select {
		case <-reg.stop:
			return
		case <-reg.transport.Done():
			cause = ErrDisconnected
			return
		case <-reg.sub.C():
			for {
				if reg.State() != Registered {
					return
				}
				msg, ok := reg.sub.TryReceive()
				if !ok {
					break
				}
				if err := r.write(reg, msg.Payload); err != nil {
					cause = fmt.Errorf("%w: %w", ErrTransport, err)
					return
				}
			}
		}
	}
}

func (r *Registry) write(reg *Registration, payload []byte) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.writeTimeout)
	defer cancel()
	return reg.transport.Write(ctx, payload)
}

// Deregister terminates reg. It is idempotent.
func (r *Registry) Deregister(reg *Registration) {
	if reg == nil {
		return
	}
	r.terminate(reg, nil)
}

// terminate converges every termination path on one state change; the first caller wins.
func (r *Registry) terminate(reg *Registration, cause error) {
	reg.once.Do(func() {
		reg.state.Store(int32(Terminated))
		reg.cause = cause
		close(reg.stop)
		reg.sub.Close()
		if err := reg.transport.Close(); err != nil {
			r.log.Debug("transport close", zap.String("registration_id", reg.ID), zap.Error(err))
		}

		s := r.shardFor(reg.Identity)
		s.mu.Lock()
		if conns, ok := s.identities[reg.Identity]; ok {
			delete(conns, reg.ID)
			if len(conns) == 0 {
				delete(s.identities, reg.Identity)
			}
		}
		s.mu.Unlock()
		r.active.Add(-1)

		if cause != nil && !errors.Is(cause, ErrDisconnected) {
			r.log.Debug("connection terminated", zap.String("identity", reg.Identity), zap.String("registration_id", reg.ID), zap.Error(cause))
		}
		if r.observer != nil {
			r.observer.ConnectionTerminated(reg, cause)
		}
		close(reg.done)
	})
}

// Count returns the number of registered connections across all identities.
func (r *Registry) Count() int { return int(r.active.Load()) }

// CountFor returns the number of registered connections of identity.
func (r *Registry) CountFor(identity string) int {
	identity = domain.NormalizeIdentity(identity)
	s := r.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities[identity])
}

// MaxPerIdentity returns the configured per-identity cap.
func (r *Registry) MaxPerIdentity() int { return r.maxPerIdentity }

// Close rejects new registrations, terminates every live one, and waits for all pumps to exit.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	var all []*Registration
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, conns := range s.identities {
			for _, reg := range conns {
				all = append(all, reg)
			}
		}
		s.mu.Unlock()
	}
	for _, reg := range all {
		r.terminate(reg, nil)
	}
	r.cancel()
	r.pumps.Wait()
}
