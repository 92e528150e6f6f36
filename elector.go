package interproc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// electLocked runs one election and starts the role-appropriate background
// activity. It is safe to call repeatedly: both the initial startup and
// `Reconnect` go through here. Caller holds ch.lk.
func (ch *Channel) electLocked() error {
	for attempt := 0; ; attempt++ {
		retry, err := ch.electOnceLocked()
		if !retry || attempt >= 2 {
			return err
		}
		// another process persisted its descriptor between our read and
		// our write; next round should find it alive and join it.
		ch.logger.Info("lost the descriptor race, re-running election")
	}
}

func (ch *Channel) electOnceLocked() (retry bool, err error) {
	ch.stopBackgroundLocked()
	ch.role = RoleUnelected
	ch.serverAddr = ""
	ch.incr(MetricElectionCount)

	// Bind the candidate listener first, whatever the outcome, so a
	// fallback endpoint is ready the moment the descriptor turns out
	// stale.
	ln, err := net.Listen("tcp", net.JoinHostPort(ch.cfg.listenHost, "0"))
	if err != nil {
		return false, fmt.Errorf("%w: listen on %s: %w", ErrElection, ch.cfg.listenHost, err)
	}

	desc, lerr := ch.store.Load()
	if lerr != nil && !errors.Is(lerr, ErrNoDescriptor) {
		// unreadable records get the stale treatment: deleted below,
		// role taken over.
		ch.logger.Warn("descriptor unreadable, treating as stale", LabelError.L(lerr))
	}

	if desc != nil {
		if ch.handshake(desc.HostPort()) {
			ln.Close()
			ch.role = RoleClient
			ch.serverAddr = desc.HostPort()
			ch.startMonitorLocked()
			ch.emit(Event{Type: EventServerRoleChanged, Server: false})
			ch.logger.Info("joined as client", LabelRole.L(ch.role.String()), "server", ch.serverAddr)
			return false, nil
		}
		ch.incr(MetricStaleDescriptorCount)
		ch.logger.Info("descriptor is stale, taking over", "recorded", desc.HostPort())
	}

	if desc != nil || (lerr != nil && !errors.Is(lerr, ErrNoDescriptor)) {
		if cerr := ch.store.Clear(); cerr != nil {
			ln.Close()
			return false, fmt.Errorf("%w: clear stale descriptor: %w", ErrElection, cerr)
		}
	}

	addr := ln.Addr().(*net.TCPAddr)
	d := &Descriptor{Address: addr.IP.String(), Port: addr.Port}
	if serr := ch.store.Save(d); serr != nil {
		ln.Close()
		if errors.Is(serr, ErrDescriptorExists) {
			return true, nil
		}
		return false, fmt.Errorf("%w: persist descriptor: %w", ErrElection, serr)
	}

	ch.ln = ln
	ch.role = RoleServer
	ch.serverAddr = d.HostPort()
	ch.incr(MetricElectionWonCount)
	ch.emit(Event{Type: EventGotServerRole})
	ch.emit(Event{Type: EventServerRoleChanged, Server: true})
	ch.logger.Info("got server role", LabelRole.L(ch.role.String()), "listen", ch.serverAddr)

	ch.wg.Add(1)
	go ch.acceptLoop(ln)
	return false, nil
}

// handshake decides whether a recorded endpoint hosts a live peer of ours:
// a bounded connect, a `--check`, and the exact `[ALIVE]` reply. Anything
// else marks the descriptor stale.
func (ch *Channel) handshake(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, ch.cfg.dialTimeout)
	if err != nil {
		ch.incr(MetricProbeFailCount, LabelError.M("dial"))
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(ch.cfg.dialTimeout))
	if _, err := conn.Write([]byte(cmdCheck + "\n")); err != nil {
		ch.incr(MetricProbeFailCount, LabelError.M("write"))
		return false
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		ch.incr(MetricProbeFailCount, LabelError.M("read"))
		return false
	}
	if strings.TrimRight(reply, "\r\n") != aliveReply {
		ch.incr(MetricProbeFailCount, LabelError.M("mismatch"))
		ch.logger.Warn("handshake reply mismatch", "reply", reply)
		return false
	}
	return true
}

func (ch *Channel) startMonitorLocked() {
	mon := newMonitor(monitorConfig{
		addr:     ch.serverAddr,
		interval: ch.cfg.probeInterval,
		timeout:  ch.cfg.dialTimeout,
		store:    ch.store,
		logger:   ch.logger,
		onLost: func() {
			ch.incr(MetricProbeFailCount, LabelError.M("lost"))
			ch.emit(Event{Type: EventConnectionLost})
		},
	})
	ch.mon = mon
	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		mon.run()
	}()
}
