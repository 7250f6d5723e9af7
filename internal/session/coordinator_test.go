// ABOUTME: Tests for the session coordinator and its supersession semantics.
// ABOUTME: Covers registration auth, routing, completion by generation, liveness, and reaping.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakhq/oak-relay/internal/auth"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/store"
)

// fakeSock records written frames and can be told to fail writes.
type fakeSock struct {
	mu       sync.Mutex
	frames   []protocol.Frame
	writeErr error
	closed   bool
	reason   string
}

func (f *fakeSock) WriteFrame(ctx context.Context, frame protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSock) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeSock) written() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSock) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeCreds is an in-memory credential source.
type fakeCreds struct {
	mu       sync.Mutex
	projects map[string]*store.Project
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{projects: make(map[string]*store.Project)}
}

func (f *fakeCreds) add(id, relayToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[id] = &store.Project{
		ID:          id,
		Credentials: auth.Credentials{RelayToken: relayToken, AgentToken: "agent-" + relayToken},
	}
}

func (f *fakeCreds) GetProject(ctx context.Context, id string) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, store.ErrProjectNotFound
}

func newTestCoordinator(t *testing.T, window time.Duration) (*Coordinator, *fakeCreds) {
	t.Helper()
	creds := newFakeCreds()
	creds.add("demo", "relay-tok")
	return NewCoordinator(creds, window, slog.Default()), creds
}

func TestRegisterAuth(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		sess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), sess.Generation)
		assert.True(t, c.IsOnline("demo"))
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := c.Register(ctx, "demo", "wrong", &fakeSock{})
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := c.Register(ctx, "ghost", "relay-tok", &fakeSock{})
		assert.ErrorIs(t, err, ErrAuthFailed)
	})
}

func TestSupersession(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	oldSock := &fakeSock{}
	oldSess, err := c.Register(ctx, "demo", "relay-tok", oldSock)
	require.NoError(t, err)

	pending, err := c.RouteCall(ctx, "demo", protocol.NewCall("req-1", "oak_search", nil))
	require.NoError(t, err)

	newSess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)
	assert.Greater(t, newSess.Generation, oldSess.Generation)
	assert.True(t, oldSock.isClosed(), "superseded socket must be closed")
	assert.True(t, c.IsOnline("demo"), "project stays online through supersession")

	// The in-flight request fails immediately with superseded.
	select {
	case f := <-pending.Done():
		assert.Equal(t, protocol.FrameError, f.Type)
		assert.Equal(t, protocol.KindSuperseded, f.Kind)
	case <-time.After(time.Second):
		t.Fatal("pending request not failed on supersession")
	}

	// A late response from the old generation never reaches a new pending.
	fresh, err := c.RouteCall(ctx, "demo", protocol.NewCall("req-2", "oak_search", nil))
	require.NoError(t, err)
	c.Complete("demo", oldSess.Generation, protocol.NewResponse("req-2", []byte(`{"stale":true}`)))

	select {
	case f := <-fresh.Done():
		t.Fatalf("stale-generation frame fulfilled a new pending request: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
	fresh.Retire()
}

func TestRouteCallOffline(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)

	start := time.Now()
	_, err := c.RouteCall(context.Background(), "demo", protocol.NewCall("req-1", "oak_search", nil))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "offline routing must fail fast")
}

func TestRouteAndComplete(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	sock := &fakeSock{}
	sess, err := c.Register(ctx, "demo", "relay-tok", sock)
	require.NoError(t, err)

	call := protocol.NewCall("req-1", "oak_search", []byte(`{"query":"go"}`))
	pending, err := c.RouteCall(ctx, "demo", call)
	require.NoError(t, err)

	written := sock.written()
	require.Len(t, written, 1)
	assert.Equal(t, call, written[0])

	c.Complete("demo", sess.Generation, protocol.NewResponse("req-1", []byte(`{"hits":3}`)))

	select {
	case f := <-pending.Done():
		assert.Equal(t, protocol.FrameResponse, f.Type)
		assert.JSONEq(t, `{"hits":3}`, string(f.Result))
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}
}

func TestCompleteIsExactlyOnce(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	sess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)

	pending, err := c.RouteCall(ctx, "demo", protocol.NewCall("req-1", "oak_search", nil))
	require.NoError(t, err)

	c.Complete("demo", sess.Generation, protocol.NewResponse("req-1", []byte(`1`)))
	c.Complete("demo", sess.Generation, protocol.NewResponse("req-1", []byte(`2`)))

	f := <-pending.Done()
	assert.JSONEq(t, `1`, string(f.Result))

	select {
	case extra := <-pending.Done():
		t.Fatalf("pending fulfilled twice: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetireDiscardsLateResponse(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	sess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)

	pending, err := c.RouteCall(ctx, "demo", protocol.NewCall("req-1", "oak_search", nil))
	require.NoError(t, err)
	pending.Retire()
	assert.Zero(t, sess.pendingCount(), "retire must remove the correlation entry")

	// A very late response is dropped without error.
	c.Complete("demo", sess.Generation, protocol.NewResponse("req-1", []byte(`{}`)))

	select {
	case f := <-pending.Done():
		t.Fatalf("retired pending received a frame: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteFailureTearsDownSession(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	sock := &fakeSock{writeErr: errors.New("broken pipe")}
	_, err := c.Register(ctx, "demo", "relay-tok", sock)
	require.NoError(t, err)

	_, err = c.RouteCall(ctx, "demo", protocol.NewCall("req-1", "oak_search", nil))
	assert.ErrorIs(t, err, ErrOffline)
	assert.False(t, c.IsOnline("demo"), "dead socket must not stay registered")
}

func TestHeartbeat(t *testing.T) {
	c, creds := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	sess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)

	require.NoError(t, c.Heartbeat(ctx, "demo", sess.Generation))

	t.Run("stale generation", func(t *testing.T) {
		err := c.Heartbeat(ctx, "demo", sess.Generation+1)
		assert.ErrorIs(t, err, ErrStaleGeneration)
	})

	t.Run("rotation evicts at next heartbeat", func(t *testing.T) {
		creds.add("demo", "rotated-tok")
		err := c.Heartbeat(ctx, "demo", sess.Generation)
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.False(t, c.IsOnline("demo"))
	})
}

func TestReapExpiredSessions(t *testing.T) {
	c, _ := newTestCoordinator(t, 20*time.Millisecond)
	ctx := context.Background()

	sock := &fakeSock{}
	_, err := c.Register(ctx, "demo", "relay-tok", sock)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	c.reapExpired()

	assert.True(t, sock.isClosed())
	assert.False(t, c.IsOnline("demo"))
	assert.Zero(t, c.OnlineCount())
}

func TestCloseSessionIgnoresSuccessor(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	oldSess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)
	_, err = c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)

	// Closing with the superseded generation must not touch the live session.
	c.CloseSession("demo", oldSess.Generation, "late unregister")
	assert.True(t, c.IsOnline("demo"))
}

func TestHooks(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	var mu sync.Mutex
	var registered, closed int
	c.SetHooks(Hooks{
		SessionRegistered: func(string) { mu.Lock(); registered++; mu.Unlock() },
		SessionClosed:     func(string, string) { mu.Lock(); closed++; mu.Unlock() },
	})

	sess, err := c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)
	_, err = c.Register(ctx, "demo", "relay-tok", &fakeSock{})
	require.NoError(t, err)
	c.CloseSession("demo", sess.Generation+1, "disconnect")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, registered)
	assert.Equal(t, 2, closed)
}
