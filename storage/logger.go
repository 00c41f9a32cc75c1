package storage

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// badgerLogger sends Badger's internal messages through zerolog. Badger is
// chatty at info level, so those messages are demoted to debug.
type badgerLogger struct {
	l zerolog.Logger
}

func newBadgerLogger() *badgerLogger {
	return &badgerLogger{l: log.Logger.With().Str("component", "badger").Logger()}
}

func (b *badgerLogger) Errorf(f string, v ...interface{}) {
	b.l.Error().Msg(format(f, v...))
}

func (b *badgerLogger) Warningf(f string, v ...interface{}) {
	b.l.Warn().Msg(format(f, v...))
}

func (b *badgerLogger) Infof(f string, v ...interface{}) {
	b.l.Debug().Msg(format(f, v...))
}

func (b *badgerLogger) Debugf(f string, v ...interface{}) {
	b.l.Trace().Msg(format(f, v...))
}

func format(f string, v ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}
