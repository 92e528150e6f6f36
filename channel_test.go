package interproc

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogHandler(name string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(name)},
	})
}

func newTestChannel(t *testing.T, name string, store Store, opts ...Option) *Channel {
	t.Helper()
	base := []Option{
		WithAppName("interproc-test"),
		WithDescriptorStore(store),
		WithLog(testLogHandler(name)),
		WithDialTimeout(500 * time.Millisecond),
		WithProbeInterval(50 * time.Millisecond),
		WithMetricSink(nil),
	}
	ch, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func nextEventOfType(t *testing.T, ch *Channel, typ EventType, within time.Duration) Event {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", typ, within)
		}
	}
}

func TestElection_ExactlyOneServer(t *testing.T) {
	store := NewMemoryStore()

	a := newTestChannel(t, "a", store)
	b := newTestChannel(t, "b", store)
	c := newTestChannel(t, "c", store)

	servers := 0
	for _, ch := range []*Channel{a, b, c} {
		if ch.IsServer() {
			servers++
		}
	}
	require.Equal(t, 1, servers, "exactly one instance converges to server")
	require.True(t, a.IsServer(), "the first instance wins")

	require.Equal(t, a.ServerAddr(), b.ServerAddr())
	require.Equal(t, a.ServerAddr(), c.ServerAddr())

	nextEventOfType(t, a, EventGotServerRole, time.Second)
	ev := nextEventOfType(t, a, EventServerRoleChanged, time.Second)
	require.True(t, ev.Server)

	ev = nextEventOfType(t, b, EventServerRoleChanged, time.Second)
	require.False(t, ev.Server)
}

func TestElection_FileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interproc-testrc")

	a := newTestChannel(t, "a", NewFileStore(path))
	require.True(t, a.IsServer())

	desc, err := NewFileStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, a.ServerAddr(), desc.HostPort())
	require.Equal(t, "127.0.0.1", desc.Address)

	b := newTestChannel(t, "b", NewFileStore(path))
	require.False(t, b.IsServer())
	require.Equal(t, a.ServerAddr(), b.ServerAddr())
}

func TestRequestRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)
	b := newTestChannel(t, "b", store)

	t.Run("plain tokens", func(t *testing.T) {
		require.NoError(t, b.SendString("--request a b c"))
		ev := nextEventOfType(t, a, EventRequest, 2*time.Second)
		require.Equal(t, []string{"a", "b", "c"}, ev.Tokens)
	})

	t.Run("quoted tokens", func(t *testing.T) {
		require.NoError(t, b.SendString(RequestLine("/movies/My Movie.avi", "sub.txt")))
		ev := nextEventOfType(t, a, EventRequest, 2*time.Second)
		require.Equal(t, []string{"/movies/My Movie.avi", "sub.txt"}, ev.Tokens)
	})

	t.Run("plain message", func(t *testing.T) {
		require.NoError(t, b.SendString("hello there"))
		ev := nextEventOfType(t, a, EventPlainMessage, 2*time.Second)
		require.Equal(t, "hello there", ev.Text)
	})
}

func TestSend_Noops(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)
	b := newTestChannel(t, "b", store)

	nextEventOfType(t, a, EventServerRoleChanged, time.Second)

	require.NoError(t, b.SendString(""), "empty payload is silently dropped")
	require.NoError(t, a.SendString("self"), "a server never messages itself")

	select {
	case ev := <-a.Events():
		require.NotEqual(t, EventPlainMessage, ev.Type)
		require.NotEqual(t, EventRequest, ev.Type)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMessageBuffer(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)
	b := newTestChannel(t, "b", store)

	b.SetMessageBuffer("--request /movie.avi")
	require.Equal(t, "--request /movie.avi", b.MessageBuffer())

	require.NoError(t, b.SendBuffer())
	require.Empty(t, b.MessageBuffer(), "buffer clears after sending")

	ev := nextEventOfType(t, a, EventRequest, 2*time.Second)
	require.Equal(t, []string{"/movie.avi"}, ev.Tokens)
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interproc-testrc")
	store := NewFileStore(path)

	a := newTestChannel(t, "a", store)
	require.True(t, a.IsServer())

	require.NoError(t, a.Close())
	_, err := store.Load()
	require.ErrorIs(t, err, ErrNoDescriptor, "clean shutdown deletes the descriptor")

	require.NoError(t, a.Close(), "second close is a no-op")
	_, err = store.Load()
	require.ErrorIs(t, err, ErrNoDescriptor)

	require.ErrorIs(t, a.SendString("late"), ErrChannelClosed)
	require.ErrorIs(t, a.Reconnect(), ErrChannelClosed)
}

func TestStaleDescriptor_Recovery(t *testing.T) {
	store := NewMemoryStore()

	// grab a port with no listener behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	require.NoError(t, store.Save(&Descriptor{Address: "127.0.0.1", Port: dead.Port}))

	c := newTestChannel(t, "c", store)
	require.True(t, c.IsServer(), "a dead descriptor is deleted and the role taken over")

	desc, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, c.ServerAddr(), desc.HostPort())
	require.NotEqual(t, dead.Port, desc.Port)

	nextEventOfType(t, c, EventGotServerRole, time.Second)
}

func TestConnectionLost_AndReconnect(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)
	b := newTestChannel(t, "b", store)
	require.False(t, b.IsServer())

	require.NoError(t, a.Close())

	// one polling interval plus the bounded connect timeout.
	nextEventOfType(t, b, EventConnectionLost, 2*time.Second)

	require.NoError(t, b.Reconnect())
	require.True(t, b.IsServer(), "the surviving client takes over")

	desc, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, b.ServerAddr(), desc.HostPort())
}

func TestConnectionLost_WatchFastPath(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)

	// polling alone would take far longer than the assertion window; only
	// the store watch can trigger the probe in time.
	b := newTestChannel(t, "b", store, WithProbeInterval(time.Minute))
	require.False(t, b.IsServer())

	// give the monitor a beat to register its store subscription.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, a.Close())
	nextEventOfType(t, b, EventConnectionLost, 2*time.Second)
}

// racingStore makes its first Load pretend the descriptor is absent, which
// reproduces two processes observing "no descriptor" concurrently.
type racingStore struct {
	Store
	lk   sync.Mutex
	lied bool
}

func (s *racingStore) Load() (*Descriptor, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if !s.lied {
		s.lied = true
		return nil, ErrNoDescriptor
	}
	return s.Store.Load()
}

func TestElection_DescriptorRaceLoserBecomesClient(t *testing.T) {
	store := NewMemoryStore()
	a := newTestChannel(t, "a", store)
	require.True(t, a.IsServer())

	b := newTestChannel(t, "b", &racingStore{Store: store})
	require.False(t, b.IsServer(), "the save is create-exclusive, the loser re-elects as client")
	require.Equal(t, a.ServerAddr(), b.ServerAddr())
}
