package telaio

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricTaskPostCount     = []string{"telaio", "runloop", "task", "post", "count"}
	MetricTaskExecCount     = []string{"telaio", "runloop", "task", "exec", "count"}
	MetricTaskQueueDepth    = []string{"telaio", "runloop", "queue", "depth"}
	MetricMsgRoutedCount    = []string{"telaio", "message", "routed", "count"}
	MetricMsgDroppedCount   = []string{"telaio", "message", "dropped", "count"}
	MetricExtCreatedCount   = []string{"telaio", "extension", "created", "count"}
	MetricExtClosedCount    = []string{"telaio", "extension", "closed", "count"}
	MetricThreadStartCount  = []string{"telaio", "thread", "start", "count"}
	MetricThreadClosedCount = []string{"telaio", "thread", "closed", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelGraph     TelemetryLabel = "graph"
	LabelGroup     TelemetryLabel = "group"
	LabelExtension TelemetryLabel = "extension"
	LabelMsgKind   TelemetryLabel = "msg_kind"
	LabelMsgName   TelemetryLabel = "msg_name"
	LabelRunloop   TelemetryLabel = "runloop"
	LabelState     TelemetryLabel = "state"
	LabelDuration  TelemetryLabel = "duration"
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
