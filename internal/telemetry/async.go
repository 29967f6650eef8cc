package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight async emits before the OTel
// providers are shut down. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Events runs emits in the background so callers are never blocked by the exporter.
type Events struct {
	emitter EventEmitter
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewEvents wraps emitter. A nil emitter makes EmitAsync a no-op.
func NewEvents(emitter EventEmitter, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{emitter: emitter, log: logger.Named("telemetry")}
}

// EmitAsync runs Emit in a goroutine with a short timeout. Errors are logged.
//
// The receiver and event may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine uses context.Background() so request cancellation does not abort an in-flight emit.
func (e *Events) EmitAsync(event *Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := e.emitter.Emit(ctx, event); err != nil {
			e.log.Warn("async emit failed", zap.String("event_type", event.Type), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight emits or until ctx ends.
func (e *Events) Drain(ctx context.Context) error {
	if e == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
