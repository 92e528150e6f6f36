package interproc

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

type monitorConfig struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	store    Store
	logger   *slog.Logger
	onLost   func()
}

// monitor is the client-side liveness poll: a pure reachability probe on a
// fixed period, no data exchange. It fires `onLost` exactly once and then
// stops until the next election recreates it.
type monitor struct {
	cfg    monitorConfig
	stopCh chan struct{}
	once   sync.Once
}

func newMonitor(cfg monitorConfig) *monitor {
	return &monitor{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

func (m *monitor) stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
}

func (m *monitor) run() {
	// When the store can signal changes, a disappearing descriptor
	// triggers an immediate out-of-cycle probe; the probe still decides.
	var watchCh <-chan struct{}
	if ws, ok := m.cfg.store.(WatchableStore); ok {
		sub, err := ws.Watch()
		if err != nil {
			m.cfg.logger.Debug("descriptor watch unavailable, polling only", LabelError.L(err))
		} else {
			defer sub.Close()
			watchCh = sub.Events()
		}
	}

	ticker := time.NewTicker(m.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		case _, ok := <-watchCh:
			if !ok {
				watchCh = nil
				continue
			}
		}

		if !m.probe() {
			m.cfg.logger.Warn("server unreachable", "server", m.cfg.addr)
			m.cfg.onLost()
			return
		}
	}
}

func (m *monitor) probe() bool {
	conn, err := net.DialTimeout("tcp", m.cfg.addr, m.cfg.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
