package interproc

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rs/xid"
)

// Wire protocol: one newline-framed plain-text request per connection.
const (
	cmdCheck   = "--check"
	cmdRequest = "--request"
	aliveReply = "[ALIVE]"

	// maxFrameBytes caps a single inbound frame.
	maxFrameBytes = 64 * 1024
)

// RequestLine builds a `--request` line from raw arguments, quoting each
// token so the server-side split restores it byte-for-byte.
func RequestLine(args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, cmdRequest)
	for _, arg := range args {
		parts = append(parts, quoteToken(arg))
	}
	return strings.Join(parts, " ")
}

func quoteToken(tok string) string {
	if tok != "" && !strings.ContainsAny(tok, " \t'\"\\") {
		return tok
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range tok {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// session owns one accepted connection for exactly one decoded message.
// Sessions are independent of one another; the only shared path is the
// channel's event emission.
type session struct {
	id   xid.ID
	conn net.Conn
	ch   *Channel
}

func newSession(conn net.Conn, ch *Channel) *session {
	return &session{
		id:   xid.New(),
		conn: conn,
		ch:   ch,
	}
}

func (s *session) run() {
	defer s.ch.wg.Done()
	defer s.conn.Close()

	// A frame abandoned mid-write by a dying sender never terminates;
	// the deadline is what reclaims the session.
	s.conn.SetReadDeadline(time.Now().Add(s.ch.cfg.dialTimeout))

	line, err := s.readFrame()
	if err != nil {
		s.ch.incr(MetricSessionErrorCount, LabelSessionID.M(s.id.String()))
		s.ch.logger.Debug(
			"session read failed",
			LabelSessionID.L(s.id.String()),
			LabelPeerAddr.L(s.conn.RemoteAddr().String()),
			LabelError.L(err),
		)
		return
	}
	if line == "" {
		return
	}
	s.dispatch(line)
}

// readFrame accepts a line terminated by newline or by a clean EOF, so
// plain one-shot writers need not close the frame explicitly.
func (s *session) readFrame() (string, error) {
	r := bufio.NewReader(io.LimitReader(s.conn, maxFrameBytes))
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) dispatch(line string) {
	tokens, err := shlex.Split(line)
	if err != nil || len(tokens) == 0 {
		// unbalanced quoting is not ours to reject; hand the raw text to
		// the application.
		s.ch.emit(Event{Type: EventPlainMessage, Text: line})
		return
	}

	switch tokens[0] {
	case cmdCheck:
		// election handshake; never surfaced to the application.
		s.conn.SetWriteDeadline(time.Now().Add(s.ch.cfg.dialTimeout))
		if _, err := s.conn.Write([]byte(aliveReply + "\n")); err != nil {
			s.ch.incr(MetricSessionErrorCount, LabelSessionID.M(s.id.String()))
			s.ch.logger.Debug("handshake reply failed", LabelSessionID.L(s.id.String()), LabelError.L(err))
		}
	case cmdRequest:
		s.ch.logger.Debug(
			"forwarded request",
			LabelSessionID.L(s.id.String()),
			LabelCommand.L(cmdRequest),
			"tokens", tokens[1:],
		)
		s.ch.emit(Event{Type: EventRequest, Tokens: tokens[1:]})
	default:
		s.ch.emit(Event{Type: EventPlainMessage, Text: line})
	}
}
