// Package logging owns the process logger.
//
// Call sites use the printf helpers with the `pkg.Type.method key=value`
// message shape; Logger exposes the structured zerolog handle for
// middleware that wants typed fields.
package logging

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := log.Logger
	current.Store(&l)
}

func setLogger(l zerolog.Logger) {
	current.Store(&l)
	log.Logger = l
}

// Logger returns the active structured logger.
func Logger() zerolog.Logger {
	return *current.Load()
}

func Tracef(format string, args ...any) {
	current.Load().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	current.Load().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current.Load().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current.Load().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	current.Load().Error().Msgf(format, args...)
}

// Logf writes at info level without a caller-chosen level; used by tests.
func Logf(format string, args ...any) {
	current.Load().Log().Msgf(format, args...)
}
