package interproc

import "log/slog"

// EventType discriminates the variants of `Event`.
type EventType uint8

const (
	// EventGotServerRole fires once when this instance wins an election.
	EventGotServerRole EventType = iota

	// EventServerRoleChanged fires after every election with the outcome
	// in `Event.Server`.
	EventServerRoleChanged

	// EventConnectionLost fires at most once per election on a client
	// instance whose server became unreachable. The owning application
	// decides whether to call `Channel.Reconnect`.
	EventConnectionLost

	// EventRequest carries the arguments of a `--request` line forwarded
	// by another instance, quoted tokens already split.
	EventRequest

	// EventPlainMessage carries any inbound line that is not a protocol
	// command, verbatim.
	EventPlainMessage
)

func (t EventType) String() string {
	switch t {
	case EventGotServerRole:
		return "got_server_role"
	case EventServerRoleChanged:
		return "server_role_changed"
	case EventConnectionLost:
		return "connection_lost"
	case EventRequest:
		return "request"
	case EventPlainMessage:
		return "plain_message"
	default:
		return "unknown"
	}
}

// Event is what the channel delivers to the owning application instead of
// invoking callbacks on its execution context. Only the fields relevant to
// `Type` are set.
type Event struct {
	Type EventType

	// Server is the new role for `EventServerRoleChanged`.
	Server bool

	// Tokens are the arguments of an `EventRequest`.
	Tokens []string

	// Text is the raw payload of an `EventPlainMessage`.
	Text string
}

func (ev Event) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", ev.Type.String()),
	}
	switch ev.Type {
	case EventServerRoleChanged:
		attrs = append(attrs, slog.Bool("server", ev.Server))
	case EventRequest:
		attrs = append(attrs, slog.Any("tokens", ev.Tokens))
	case EventPlainMessage:
		attrs = append(attrs, slog.String("text", ev.Text))
	}
	return slog.GroupValue(attrs...)
}
