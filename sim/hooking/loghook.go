package hooking

import (
	"github.com/sirupsen/logrus"
)

// A Fielder is an item that can describe itself as structured log fields.
type Fielder interface {
	LogFields() map[string]any
}

type named interface {
	Name() string
}

// A LogHook writes every event it receives as a structured log entry.
type LogHook struct {
	logger logrus.FieldLogger
	level  logrus.Level
}

// NewLogHook creates a LogHook that logs at the debug level.
func NewLogHook(logger logrus.FieldLogger) *LogHook {
	return &LogHook{
		logger: logger,
		level:  logrus.DebugLevel,
	}
}

// WithLevel sets the level of the entries that the hook writes.
func (h *LogHook) WithLevel(level logrus.Level) *LogHook {
	h.level = level
	return h
}

// Func logs the hook context.
func (h *LogHook) Func(ctx HookCtx) {
	fields := logrus.Fields{}

	if ctx.Pos != nil {
		fields["pos"] = ctx.Pos.Name
	}

	if d, ok := ctx.Domain.(named); ok {
		fields["domain"] = d.Name()
	}

	addItemFields(fields, "item", ctx.Item)
	addItemFields(fields, "detail", ctx.Detail)

	h.logger.WithFields(fields).Log(h.level, "vm event")
}

func addItemFields(fields logrus.Fields, key string, item any) {
	if item == nil {
		return
	}

	f, ok := item.(Fielder)
	if !ok {
		fields[key] = item
		return
	}

	for k, v := range f.LogFields() {
		fields[k] = v
	}
}
