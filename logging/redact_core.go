package logging

import (
	"go.uber.org/zap/zapcore"
)

// redactCore masks sensitive fields before handing entries to the wrapped
// core, so every logger derived from it (Named, With, Sugar) is covered.
type redactCore struct {
	zapcore.Core
}

// NewRedactCore wraps c with secret redaction.
func NewRedactCore(c zapcore.Core) zapcore.Core {
	return &redactCore{Core: c}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveField(f.Key) {
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: RedactedPlaceholder}
	}
	if f.Type == zapcore.StringType {
		if r := RedactSensitiveData(f.String); r != f.String {
			f.String = r
		}
	}
	return f
}
