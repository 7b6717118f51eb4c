package fundd

import (
	"log/slog"

	"invfund/core/events"
	"invfund/observability"
	"invfund/observability/logging"
)

// logEmitter forwards engine events to structured logs and the prometheus
// registries.
type logEmitter struct {
	log *slog.Logger
}

func newLogEmitter(log *slog.Logger) *logEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &logEmitter{log: log}
}

func (e *logEmitter) Emit(evt events.Event) {
	attrs := evt.Attributes()
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("event", evt.EventType()))
	for key, value := range attrs {
		// Addresses and amounts stay masked unless the key is allowlisted.
		args = append(args, logging.MaskField(key, value))
	}
	e.log.Info("fund event", args...)

	switch typed := evt.(type) {
	case events.OrderDeferred:
		observability.OrderMetrics().RecordDeferred(typed.Asset)
	case events.RebalanceCompleted:
		observability.RebalanceMetrics().RecordCompleted(typed.Kind)
	}
}
