package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

func init() {
	// Nothing is emitted until the CLI (or a test) attaches a writer and raises the level.
	GlobalLogger = NewLogger(zerolog.Disabled)

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
