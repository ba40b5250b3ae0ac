/*
Package rangelogger implements the logging used by all backend services. It
tees console output with a Sentry core so that errors are reported to Sentry
on staging and production environments, while keeping the colored console
output for development.
*/
package rangelogger // import "github.com/hackrange/hackrange/backend/services/rangelogger"

import (
	"context"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hackrange/hackrange/backend/services/metadata"
	"github.com/hackrange/hackrange/backend/services/utils"
)

var logger *zap.Logger

func init() {
	// First, define our level-handling logic.
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})

	// High-priority output should go to standard error, and low-priority
	// output should go to standard out.
	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()

	// Enable colored output on stdout
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority),
	}

	// Only report to Sentry outside of local development and CI.
	if usingProdLogging() {
		sentryEncoder := zapcore.NewJSONEncoder(NewSentryEncoderConfig())
		if core := NewSentryCore(sentryEncoder, highPriority); core != nil {
			cores = append(cores, core)
		}
	}

	logger = zap.New(zapcore.NewTee(cores...))
}

// usingProdLogging returns true when log output should leave the box, i.e.
// everywhere except local development and CI.
func usingProdLogging() bool {
	return !metadata.IsLocalEnv() && !metadata.IsRunningInCI()
}

// Close flushes all production logging (i.e. Sentry).
func Close() {
	FlushSentry()
	logger.Sync()
}

// Info logs some info + timestamp, but does not send it to Sentry.
func Info(v ...interface{}) {
	logger.Sugar().Info(v...)
}

// Error logs an error and sends it to Sentry.
func Error(err error) {
	logger.Sugar().Error(err)
}

// Warning logs an error in yellow text, like Error, but doesn't send it to
// Sentry.
func Warning(err error) {
	logger.Sugar().Warn(err)
}

// Panic sends an error to Sentry and "pretends" to panic on it by printing
// the stack trace and calling the provided global context-cancelling
// function. This causes all the goroutines in the program to kill themselves
// (cleanly). This function should not be used except to initiate termination
// of the entire service. Note that passing in a nil `globalCancel` parameter
// will just panic on `err` instead.
func Panic(globalCancel context.CancelFunc, err error) {
	PrintStackTrace()

	if globalCancel != nil {
		Info(err)
		globalCancel()
	} else {
		// If we're truly trying to panic, let's at least flush our logging
		// queues first so this error actually gets sent.
		FlushSentry()
		logger.Sugar().Panic(err)
	}
}

// Infof is identical to Info, since Info already respects printf syntax. We
// only include Infof for consistency with Errorf, Warningf, and Panicf.
func Infof(format string, v ...interface{}) {
	logger.Sugar().Infof(format, v...)
}

// Errorf is like Error, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Errorf(format string, v ...interface{}) {
	logger.Sugar().Errorf(format, v...)
}

// Warningf is like Warning, but it respects printf syntax, i.e. takes in a
// format string and arguments, for convenience.
func Warningf(format string, v ...interface{}) {
	logger.Sugar().Warnf(format, v...)
}

// Panicf is like Panic, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Panicf(globalCancel context.CancelFunc, format string, v ...interface{}) {
	Panic(globalCancel, utils.MakeError(format, v...))
}

// Infow logs a message with additional context fields attached. Use it on
// paths where a request/instance id should travel with every line.
func Infow(msg string, fields []interface{}) {
	logger.Sugar().Infow(msg, fields...)
}

// Warningw is like Infow but logs at warning level.
func Warningw(msg string, fields []interface{}) {
	logger.Sugar().Warnw(msg, fields...)
}

// Errorw is like Infow but logs at error level, and sends to Sentry.
func Errorw(msg string, fields []interface{}) {
	logger.Sugar().Errorw(msg, fields...)
}

// Print exists so external libraries that want a print-style logging
// function (e.g. the Hasura subscription client) can be handed one that
// routes through this package.
func Print(v ...interface{}) {
	logger.Sugar().Info(v...)
}

// PrintStackTrace prints the stack trace, for debugging purposes.
func PrintStackTrace() {
	Info("Printing stack trace: ")
	debug.PrintStack()
}
