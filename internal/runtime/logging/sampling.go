package logging

import "math/rand/v2"

// NewSampledLogger returns a logger that forwards Debug, Info, and Trace
// calls with the given probability. Errors are never sampled away: failures
// always reach the sink. A rate >= 1 returns the base logger unchanged.
func NewSampledLogger(base ServiceLogger, rate float64) ServiceLogger {
	if base == nil {
		panic("guardrail: base logger cannot be nil")
	}
	if rate >= 1 {
		return base
	}
	if rate < 0 {
		rate = 0
	}
	return &sampledLogger{base: base, rate: rate}
}

type sampledLogger struct {
	base ServiceLogger
	rate float64
}

func (s *sampledLogger) sample() bool {
	return s.rate > 0 && rand.Float64() < s.rate
}

func (s *sampledLogger) With(fields LogFields) ServiceLogger {
	return &sampledLogger{base: s.base.With(fields), rate: s.rate}
}

func (s *sampledLogger) Debug(msg string, fields LogFields) {
	if s.sample() {
		s.base.Debug(msg, fields)
	}
}

func (s *sampledLogger) Info(msg string, fields LogFields) {
	if s.sample() {
		s.base.Info(msg, fields)
	}
}

func (s *sampledLogger) Error(msg string, err error, fields LogFields) {
	s.base.Error(msg, err, fields)
}

func (s *sampledLogger) Trace(msg string, fields LogFields) {
	if s.sample() {
		s.base.Trace(msg, fields)
	}
}
