package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-notify/backend/internal/email"
	"social-notify/backend/internal/eventbus"
	"social-notify/backend/internal/notification/domain"
	"social-notify/backend/internal/notification/repository"
	"social-notify/backend/internal/registry"
	"social-notify/backend/internal/security"
)

const waitFor = time.Second

type fakeTransport struct {
	mu       sync.Mutex
	got      chan []byte
	done     chan struct{}
	once     sync.Once
	closed   bool
	rejected error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{got: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) Write(ctx context.Context, payload []byte) error {
	select {
	case f.got <- append([]byte(nil), payload...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) expectMessage(t *testing.T, want string) {
	t.Helper()
	select {
	case frame := <-f.got:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, want, env.Message)
	case <-time.After(waitFor):
		t.Fatalf("no frame delivered, want %q", want)
	}
}

func (f *fakeTransport) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.got:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

type rejectingTransport struct {
	*fakeTransport
}

func (r rejectingTransport) Reject(reason error) error {
	r.mu.Lock()
	r.rejected = reason
	r.mu.Unlock()
	return r.Close()
}

type failingStore struct {
	repository.Store
}

func (failingStore) Append(context.Context, string, string) (*domain.Record, error) {
	return nil, errors.New("connection refused")
}

type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *recordingSender) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

type countingRecorder struct {
	mu      sync.Mutex
	created int
	failed  int
}

func (c *countingRecorder) NotificationCreated(context.Context, string, int64, time.Duration) {
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
}

func (c *countingRecorder) NotificationFailed() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	bus      *eventbus.Bus
	registry *registry.Registry
	tokens   *security.TokenCodec
}

func newFixture(t *testing.T, store repository.Store, opts ...Option) *fixture {
	t.Helper()
	bus := eventbus.New()
	reg := registry.New(bus, registry.Config{MaxPerIdentity: 4}, zap.NewNop())
	t.Cleanup(reg.Close)
	tokens := security.NewTestTokenCodec(nil)
	return &fixture{
		svc:      New(store, bus, reg, tokens, zap.NewNop(), opts...),
		bus:      bus,
		registry: reg,
		tokens:   tokens,
	}
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(subject)
	require.NoError(t, err)
	return tok
}

func TestNotify_OfflineRecipientReadsViaList(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	tok := f.token(t, "alice@example.com")

	rec, err := f.svc.Notify(ctx, "alice@example.com", "bob liked your post")
	require.NoError(t, err)
	assert.False(t, rec.Delivered)

	tr := newFakeTransport()
	_, err = f.svc.Connect(ctx, tok, tr)
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "alice@example.com", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob liked your post", list[0].Message)
	assert.Equal(t, rec.ID, list[0].ID)
	tr.expectNothing(t)
}

func TestNotify_LiveDelivery(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	tr := newFakeTransport()
	_, err := f.svc.Connect(ctx, f.token(t, "alice@example.com"), tr)
	require.NoError(t, err)

	rec, err := f.svc.Notify(ctx, "alice@example.com", "carol commented")
	require.NoError(t, err)
	assert.True(t, rec.Delivered)
	tr.expectMessage(t, "carol commented")

	list, err := f.svc.List(ctx, "alice@example.com", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "carol commented", list[0].Message)
}

func TestNotify_TextPayload(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), WithPayloadFormat(domain.PayloadText))
	tr := newFakeTransport()
	_, err := f.svc.Connect(context.Background(), f.token(t, "alice@example.com"), tr)
	require.NoError(t, err)

	_, err = f.svc.Notify(context.Background(), "alice@example.com", "carol commented")
	require.NoError(t, err)
	select {
	case frame := <-tr.got:
		assert.Equal(t, "carol commented", string(frame))
	case <-time.After(waitFor):
		t.Fatal("no frame delivered")
	}
}

func TestNotify_TwoDevices(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	tok := f.token(t, "alice@example.com")
	phone, laptop := newFakeTransport(), newFakeTransport()
	_, err := f.svc.Connect(ctx, tok, phone)
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, tok, laptop)
	require.NoError(t, err)

	_, err = f.svc.Notify(ctx, "Alice@Example.com", "dave followed you")
	require.NoError(t, err)
	phone.expectMessage(t, "dave followed you")
	laptop.expectMessage(t, "dave followed you")
}

func TestNotify_StoreFailurePublishesNothing(t *testing.T) {
	rec := &countingRecorder{}
	sender := &recordingSender{}
	mail := email.NewAsyncSender(sender, nil)
	f := newFixture(t, failingStore{}, WithRecorder(rec), WithEmail(mail))
	sub := f.bus.Subscribe(domain.Topic("alice@example.com"))
	defer sub.Close()

	_, err := f.svc.Notify(context.Background(), "alice@example.com", "carol commented")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, ok := sub.TryReceive()
	assert.False(t, ok, "nothing may be published when persistence fails")
	require.NoError(t, mail.Drain(context.Background()))
	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 0, rec.created)
}

func TestNotify_InvalidInput(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	long := make([]rune, domain.MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		name, recipient, message string
	}{
		{"empty recipient", "", "hi"},
		{"empty message", "alice@example.com", ""},
		{"blank message", "alice@example.com", "   "},
		{"message too long", "alice@example.com", string(long)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Notify(context.Background(), tt.recipient, tt.message)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestNotify_SendsEmailAndRecords(t *testing.T) {
	rec := &countingRecorder{}
	sender := &recordingSender{}
	mail := email.NewAsyncSender(sender, nil)
	f := newFixture(t, repository.NewMemoryStore(), WithRecorder(rec), WithEmail(mail))

	_, err := f.svc.Notify(context.Background(), "alice@example.com", "bob liked your post")
	require.NoError(t, err)
	require.NoError(t, mail.Drain(context.Background()))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@example.com", sender.sent[0].To)
	assert.Equal(t, EmailSubject, sender.sent[0].Subject)
	assert.Equal(t, "bob liked your post", sender.sent[0].Body)
	assert.Equal(t, 1, rec.created)
}

func TestConnect_InvalidTokenClosesTransport(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	tr := newFakeTransport()

	reg, err := f.svc.Connect(context.Background(), "not-a-token", tr)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, reg)
	assert.True(t, tr.isClosed())
	assert.Equal(t, 0, f.registry.Count())
}

func TestConnect_RejectReceivesReason(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	tok := f.token(t, "alice@example.com")
	for i := 0; i < f.registry.MaxPerIdentity(); i++ {
		_, err := f.svc.Connect(context.Background(), tok, newFakeTransport())
		require.NoError(t, err)
	}

	over := rejectingTransport{newFakeTransport()}
	_, err := f.svc.Connect(context.Background(), tok, over)
	assert.ErrorIs(t, err, registry.ErrTooManyConnections)
	assert.True(t, over.isClosed())
	over.mu.Lock()
	defer over.mu.Unlock()
	assert.ErrorIs(t, over.rejected, registry.ErrTooManyConnections)
}

func TestConnect_DeregisteredConnectionGetsNothing(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	tr := newFakeTransport()
	reg, err := f.svc.Connect(context.Background(), f.token(t, "alice@example.com"), tr)
	require.NoError(t, err)

	reg.Deregister()
	select {
	case <-reg.Done():
	case <-time.After(waitFor):
		t.Fatal("registration did not terminate")
	}
	_, err = f.svc.Notify(context.Background(), "alice@example.com", "late")
	require.NoError(t, err)
	tr.expectNothing(t)
}

func TestList_Limits(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	for _, m := range []string{"one", "two", "three"} {
		_, err := f.svc.Notify(ctx, "alice@example.com", m)
		require.NoError(t, err)
	}

	list, err := f.svc.List(ctx, "alice@example.com", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Message)
	assert.Equal(t, "three", list[1].Message)

	_, err = f.svc.List(ctx, "alice@example.com", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.List(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNotify_SlowRecipientDoesNotDelayOthers(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	slow := &blockingTransport{fakeTransport: newFakeTransport(), gate: make(chan struct{})}
	defer close(slow.gate)
	fast := newFakeTransport()
	_, err := f.svc.Connect(ctx, f.token(t, "slow@example.com"), slow)
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, f.token(t, "fast@example.com"), fast)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := f.svc.Notify(ctx, "slow@example.com", "spam")
		require.NoError(t, err)
	}
	start := time.Now()
	_, err = f.svc.Notify(ctx, "fast@example.com", "ping")
	require.NoError(t, err)
	fast.expectMessage(t, "ping")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type blockingTransport struct {
	*fakeTransport
	gate chan struct{}
}

func (b *blockingTransport) Write(ctx context.Context, payload []byte) error {
	select {
	case <-b.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.fakeTransport.Write(ctx, payload)
}
