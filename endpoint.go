package interproc

import (
	"errors"
	"net"
)

// acceptLoop runs for the lifetime of the server role. The listener is
// exclusively owned by this goroutine; closing it is how the election and
// Close unblock a pending Accept.
func (ch *Channel) acceptLoop(ln net.Listener) {
	defer ch.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				ch.logger.Warn("accept failed, stopping endpoint", LabelError.L(err))
			}
			return
		}

		ch.incr(MetricSessionInCount)
		ch.wg.Add(1)
		s := newSession(conn, ch)
		go s.run()
	}
}
