package logging

import (
	"github.com/sirupsen/logrus"
)

// TargetKey is the field naming the component that emitted a log line
const TargetKey = "component"

// DefaultTarget is reported for entries that carry no component field
const DefaultTarget = "hexagent"

// Event is a log line as delivered to a host sink
type Event struct {
	Level   Level
	Target  string
	Message string
}

// Sink receives log events. It must not block.
type Sink func(Event)

// CallbackHook forwards log entries at or above a minimum level to a Sink
type CallbackHook struct {
	min  Level
	sink Sink
}

// NewCallbackHook returns a hook delivering entries at or above min to sink
func NewCallbackHook(min Level, sink Sink) *CallbackHook {
	return &CallbackHook{min: min, sink: sink}
}

// Levels implements logrus.Hook
func (h *CallbackHook) Levels() []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if fromLogrus(l) >= h.min {
			levels = append(levels, l)
		}
	}
	return levels
}

// Fire implements logrus.Hook
func (h *CallbackHook) Fire(e *logrus.Entry) error {
	target := DefaultTarget
	if v, ok := e.Data[TargetKey].(string); ok && v != "" {
		target = v
	}
	h.sink(Event{
		Level:   fromLogrus(e.Level),
		Target:  target,
		Message: e.Message,
	})
	return nil
}
