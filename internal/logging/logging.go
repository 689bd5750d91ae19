package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config log-level string to a zapcore level, defaulting
// to info for unknown values.
func ParseLevel(levelString string) zapcore.Level {
	switch levelString {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		fmt.Fprintf(os.Stderr, "Invalid log level specified: %s. Defaulting to info.\n", levelString)
		return zapcore.InfoLevel
	}
}

// Setup builds the shared zap logger: a JSON file core under logDir teed
// with a console core on stderr. Stderr is used for the console so that CLI
// commands can keep stdout clean for their own output.
func Setup(levelString, logDir, fileName string) (*zap.Logger, error) {
	logLevel := ParseLevel(levelString)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoderCfg.TimeKey = "ts"
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.AddSync(os.Stderr),
		logLevel,
	)

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		// Console-only if the log directory cannot be created.
		logger := zap.New(consoleCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		logger.Error("Failed to create log directory, logging to console only",
			zap.String("directory", logDir), zap.Error(err))
		return logger, nil
	}

	logFilePath := filepath.Join(logDir, fileName)
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger := zap.New(consoleCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		logger.Error("Failed to open log file, logging to console only",
			zap.String("path", logFilePath), zap.Error(err))
		return logger, nil
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(zapcore.Lock(file)),
		logLevel,
	)

	teeCore := zapcore.NewTee(fileCore, consoleCore)
	return zap.New(teeCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Console builds a console-only logger for early startup, before the
// configuration (and with it the real log directory) is known.
func Console(levelString string) *zap.Logger {
	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoderCfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.AddSync(os.Stderr),
		ParseLevel(levelString),
	)
	return zap.New(core)
}
