package logging

import (
	"time"

	"go.uber.org/zap"
)

// Instrument starts a timed operation and returns the function that finishes it.
// Call the result with defer and a pointer to the named error result:
//
//	done := logging.Instrument(logger, "route", zap.String("provider", name))
//	defer done(&err)
//
// Exactly one entry is written per call, on success and failure paths alike,
// including when the deferred call runs while a panic unwinds.
func Instrument(logger *zap.Logger, op string, fields ...zap.Field) func(errp *error) {
	start := time.Now()
	logger.Debug("Operation started", append([]zap.Field{zap.String("operation", op)}, fields...)...)

	return func(errp *error) {
		elapsed := time.Since(start)
		all := append([]zap.Field{
			zap.String("operation", op),
			zap.Duration("duration", elapsed),
			zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
		}, fields...)

		if r := recover(); r != nil {
			logger.Error("Operation panicked", append(all, zap.Any("panic", r))...)
			panic(r)
		}

		if errp != nil && *errp != nil {
			logger.Warn("Operation failed", append(all, zap.Error(*errp))...)
			return
		}
		logger.Info("Operation completed", all...)
	}
}
