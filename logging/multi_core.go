package logging

import "go.uber.org/zap/zapcore"

// NewMultiCore tees console and file output. The file is always JSON; the
// console is colored text in development and JSON otherwise. A nil file
// writer yields a console-only core.
func NewMultiCore(level zapcore.LevelEnabler, console, file zapcore.WriteSyncer, dev bool) zapcore.Core {
	var consoleEnc zapcore.Encoder
	if dev {
		consoleEnc = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEnc = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEnc, console, level)

	if file == nil {
		return consoleCore
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), file, level)
	return zapcore.NewTee(consoleCore, fileCore)
}
