// ABOUTME: Tests for the connection registry.
// ABOUTME: Validates last-connect-wins, guarded deregistration, and concurrent access.

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	identity string
	id       string

	mu     sync.Mutex
	closed bool
	code   int
}

func newFakeHandle(identity, id string) *fakeHandle {
	return &fakeHandle{identity: identity, id: id}
}

func (f *fakeHandle) Identity() string { return f.identity }
func (f *fakeHandle) ID() string       { return f.id }

func (f *fakeHandle) Send(ctx context.Context, frame []byte) error { return nil }

func (f *fakeHandle) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)
	h := newFakeHandle("alice", "c1")

	prev := r.Register(h)
	assert.Nil(t, prev)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	_, ok = r.Lookup("bob")
	assert.False(t, ok, "absent identity is a normal miss")
	assert.Equal(t, 1, r.Count())
}

func TestRegister_LastConnectWins(t *testing.T) {
	r := New(nil)
	first := newFakeHandle("alice", "c1")
	second := newFakeHandle("alice", "c2")

	r.Register(first)
	prev := r.Register(second)

	require.NotNil(t, prev)
	assert.Equal(t, "c1", prev.ID())
	assert.False(t, first.isClosed(), "registry never closes the superseded handle")

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())
	assert.Equal(t, 1, r.Count())
}

func TestDeregister_StaleHandleLeavesNewerEntry(t *testing.T) {
	r := New(nil)
	first := newFakeHandle("alice", "c1")
	second := newFakeHandle("alice", "c2")

	r.Register(first)
	r.Register(second)

	assert.False(t, r.Deregister(first))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())

	assert.True(t, r.Deregister(second))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestDeregister_Unknown(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Deregister(newFakeHandle("ghost", "c0")))
}

func TestIdentitiesSorted(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"carol", "alice", "bob"} {
		r.Register(newFakeHandle(name, name+"-conn"))
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Identities())
}

func TestCloseAll(t *testing.T) {
	r := New(nil)
	a := newFakeHandle("alice", "c1")
	b := newFakeHandle("bob", "c2")
	r.Register(a)
	r.Register(b)

	r.CloseAll(1001, "server shutting down")

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 1001, a.code)
	assert.Equal(t, 0, r.Count())
}

func TestConcurrentRegisterDeregister(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Go(func() {
			h := newFakeHandle(fmt.Sprintf("user-%d", i%5), fmt.Sprintf("conn-%d", i))
			r.Register(h)
			r.Lookup(h.Identity())
			r.Deregister(h)
		})
	}
	wg.Wait()

	// The last register for each identity is followed by its own deregister.
	assert.Equal(t, 0, r.Count())
}
