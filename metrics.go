package interproc

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricElectionCount        = []string{"interproc", "election", "count"}
	MetricElectionWonCount     = []string{"interproc", "election", "won", "count"}
	MetricStaleDescriptorCount = []string{"interproc", "descriptor", "stale", "count"}
	MetricSessionInCount       = []string{"interproc", "session", "in", "count"}
	MetricSessionErrorCount    = []string{"interproc", "session", "in", "error", "count"}
	MetricSendBytes            = []string{"interproc", "send", "out", "bytes"}
	MetricSendErrorCount       = []string{"interproc", "send", "out", "error", "count"}
	MetricProbeFailCount       = []string{"interproc", "probe", "fail", "count"}
	MetricEventDropCount       = []string{"interproc", "event", "drop", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelRole      TelemetryLabel = "role"
	LabelApp       TelemetryLabel = "app"
	LabelSessionID TelemetryLabel = "session_id"
	LabelPeerAddr  TelemetryLabel = "peer_addr"
	LabelCommand   TelemetryLabel = "command"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
