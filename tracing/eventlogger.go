package tracing

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/desim/hooking"
)

// EventLogger is a hook that logs every event before it executes, and every
// failure after.
type EventLogger struct {
	logger logrus.FieldLogger
	level  logrus.Level
}

// NewEventLogger returns an EventLogger writing at the given level. Levels
// more severe than error are lowered to error.
func NewEventLogger(logger logrus.FieldLogger, level logrus.Level) *EventLogger {
	if level < logrus.ErrorLevel {
		level = logrus.ErrorLevel
	}

	return &EventLogger{logger: logger, level: level}
}

// Func writes the event information into the logger.
func (h *EventLogger) Func(ctx hooking.HookCtx) {
	info, ok := eventInfo(ctx)
	if !ok {
		return
	}

	entry := h.logger.WithFields(logrus.Fields{
		"time":  info.When(),
		"seq":   info.Sequence(),
		"event": info.Kind(),
	})

	switch {
	case isBefore(ctx):
		entry.Log(h.level, "executing event")
	case isAfter(ctx):
		if err := eventError(ctx); err != nil {
			entry.WithError(err).Warn("event failed")
		}
	}
}
