package interproc

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Role is the Server or Client designation of a channel instance.
type Role uint8

const (
	RoleUnelected Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unelected"
	}
}

// Channel is the per-process coordination object. Creating one runs an
// election; exactly one instance per descriptor converges to the server
// role and the rest become clients of it.
//
// All networking happens on background goroutines; the owning application
// observes the channel exclusively through `Events`.
type Channel struct {
	cfg    config
	logger *slog.Logger
	store  Store
	msink  metrics.MetricSink

	eventCh chan Event

	lk         sync.Mutex
	closed     bool
	role       Role
	serverAddr string
	ln         net.Listener
	mon        *monitor
	wg         sync.WaitGroup
	msgBuf     string
}

// New creates a channel and runs the initial election.
func New(opts ...Option) (*Channel, error) {
	cfg := config{
		app:           filepath.Base(os.Args[0]),
		listenHost:    defaultListenHost,
		dialTimeout:   DefaultDialTimeout,
		probeInterval: DefaultProbeInterval,
		eventBuffer:   DefaultEventBuffer,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	ch := &Channel{
		cfg:     cfg,
		eventCh: make(chan Event, cfg.eventBuffer),
	}

	if cfg.logHandler != nil {
		ch.logger = slog.New(cfg.logHandler)
	} else {
		ch.logger = slog.Default()
	}
	ch.logger = ch.logger.With(LabelApp.L(cfg.app))

	if cfg.store != nil {
		ch.store = cfg.store
	} else {
		ch.store = NewFileStore(DefaultDescriptorPath(cfg.app))
	}

	if cfg.msink != nil {
		ch.msink = cfg.msink
	} else {
		ch.msink = metrics.Default()
	}

	ch.lk.Lock()
	err := ch.electLocked()
	ch.lk.Unlock()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Events returns the channel on which role changes, connection loss and
// inbound messages are delivered. It is closed by `Close`.
func (ch *Channel) Events() <-chan Event {
	return ch.eventCh
}

// IsServer reports whether this instance currently holds the server role.
func (ch *Channel) IsServer() bool {
	return ch.Role() == RoleServer
}

// Role returns the current role of this instance.
func (ch *Channel) Role() Role {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	return ch.role
}

// ServerAddr returns the host:port of the elected server: the local
// listener when this instance is the server, the descriptor's endpoint
// when it is a client.
func (ch *Channel) ServerAddr() string {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	return ch.serverAddr
}

// SendString sends a single plain-text message to the server instance.
func (ch *Channel) SendString(s string) error {
	return ch.Send([]byte(s))
}

// Send delivers one message to the server instance over a short-lived
// connection, fire-and-forget: the write is bounded, no reply is read, and
// delivery is at-most-once. Empty payloads and sends from the server
// instance itself are silent no-ops.
//
// The payload is a single line; a frame terminator is appended on the wire.
func (ch *Channel) Send(msg []byte) error {
	ch.lk.Lock()
	if ch.closed {
		ch.lk.Unlock()
		return ErrChannelClosed
	}
	if ch.role == RoleServer || len(msg) == 0 {
		ch.lk.Unlock()
		return nil
	}
	addr := ch.serverAddr
	timeout := ch.cfg.dialTimeout
	ch.lk.Unlock()

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		ch.incr(MetricSendErrorCount, LabelError.M("dial"))
		return fmt.Errorf("interproc: dial server %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')
	n, err := conn.Write(frame)
	if err != nil {
		ch.incr(MetricSendErrorCount, LabelError.M("write"))
		return fmt.Errorf("interproc: send to %s: %w", addr, err)
	}
	ch.msink.AddSampleWithLabels(MetricSendBytes, float32(n), ch.cfg.metricLabels)
	return nil
}

// SetMessageBuffer stores a message for a later `SendBuffer`.
func (ch *Channel) SetMessageBuffer(s string) {
	ch.lk.Lock()
	ch.msgBuf = s
	ch.lk.Unlock()
}

// MessageBuffer returns the currently buffered message.
func (ch *Channel) MessageBuffer() string {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	return ch.msgBuf
}

// SendBuffer sends the buffered message and clears the buffer, whether or
// not the send succeeded.
func (ch *Channel) SendBuffer() error {
	ch.lk.Lock()
	msg := ch.msgBuf
	ch.msgBuf = ""
	ch.lk.Unlock()
	return ch.Send([]byte(msg))
}

// Reconnect re-runs the election. It is what the owning application calls
// after observing `EventConnectionLost`, so that one of the surviving
// instances takes over the server role.
func (ch *Channel) Reconnect() error {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	return ch.electLocked()
}

// Close shuts the channel down: a server instance releases its listener
// and deletes the descriptor, a client instance stops its liveness
// polling. Close is idempotent.
func (ch *Channel) Close() error {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true

	wasServer := ch.role == RoleServer
	ch.stopBackgroundLocked()
	ch.role = RoleUnelected
	ch.serverAddr = ""

	var err error
	if wasServer {
		err = ch.store.Clear()
	}

	// every emitter is joined at this point, so consumers get a clean
	// end-of-stream.
	close(ch.eventCh)

	ch.logger.Info("channel closed")
	return err
}

// stopBackgroundLocked tears down whatever background activity the current
// role runs: closing the listener unblocks a pending Accept, stopping the
// monitor unblocks its probe, then all workers are joined. Sessions finish
// on their own read deadlines.
func (ch *Channel) stopBackgroundLocked() {
	if ch.ln != nil {
		ch.ln.Close()
		ch.ln = nil
	}
	if ch.mon != nil {
		ch.mon.stop()
		ch.mon = nil
	}
	ch.wg.Wait()
}

func (ch *Channel) emit(ev Event) {
	select {
	case ch.eventCh <- ev:
	default:
		ch.incr(MetricEventDropCount, LabelError.M(ev.Type.String()))
		ch.logger.Warn("event dropped, consumer is not keeping up", "event", ev)
	}
}

func (ch *Channel) incr(name []string, extra ...metrics.Label) {
	labels := ch.cfg.metricLabels
	if len(extra) > 0 {
		labels = append(append([]metrics.Label{}, labels...), extra...)
	}
	ch.msink.IncrCounterWithLabels(name, 1.0, labels)
}
