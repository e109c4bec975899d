package logging

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/crytic/vyperlens/logging/colors"
	"github.com/rs/zerolog"
)

// GlobalLogger is the root logger. Packages derive their own sub-loggers from it with NewSubLogger.
var GlobalLogger *Logger

// LogFormat selects how a writer receives log events.
type LogFormat string

const (
	// STRUCTURED emits one JSON object per event
	STRUCTURED LogFormat = "structured"
	// UNSTRUCTURED emits human readable lines
	UNSTRUCTURED LogFormat = "unstructured"
)

// StructuredLogInfo is attached to an event under the "info" key.
type StructuredLogInfo map[string]any

// Logger fans log events out to structured writers, plain text writers and colorized text writers. Each group is
// backed by its own zerolog.Logger so that colorized console output never leaks ANSI codes into files.
type Logger struct {
	level zerolog.Level

	// context holds key/value pairs added through NewSubLogger so they survive writer changes.
	context []string

	structuredLogger         zerolog.Logger
	structuredWriters        []io.Writer
	unstructuredLogger       zerolog.Logger
	unstructuredWriters      []io.Writer
	unstructuredColorLogger  zerolog.Logger
	unstructuredColorWriters []io.Writer
}

// NewLogger creates a Logger with the given level and no writers.
func NewLogger(level zerolog.Level) *Logger {
	l := &Logger{level: level}
	l.rebuild()
	return l
}

// NewSubLogger returns a copy of the logger whose events carry the additional key/value pair. Writers added to the
// parent after this call are not seen by the child.
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	sub := &Logger{
		level:                    l.level,
		context:                  append(slices.Clone(l.context), key, value),
		structuredWriters:        slices.Clone(l.structuredWriters),
		unstructuredWriters:      slices.Clone(l.unstructuredWriters),
		unstructuredColorWriters: slices.Clone(l.unstructuredColorWriters),
	}
	sub.rebuild()
	return sub
}

// AddWriter registers a writer. Adding a writer twice with the same format is a no-op.
func (l *Logger) AddWriter(writer io.Writer, format LogFormat, colored bool) {
	list := l.writerList(format, colored)
	if slices.Contains(*list, writer) {
		return
	}
	*list = append(*list, writer)
	l.rebuild()
}

// RemoveWriter unregisters a writer. Unknown writers are ignored.
func (l *Logger) RemoveWriter(writer io.Writer, format LogFormat, colored bool) {
	list := l.writerList(format, colored)
	if idx := slices.Index(*list, writer); idx >= 0 {
		*list = slices.Delete(*list, idx, idx+1)
		l.rebuild()
	}
}

// Level returns the current log level.
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel updates the log level of every underlying logger.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.rebuild()
}

func (l *Logger) writerList(format LogFormat, colored bool) *[]io.Writer {
	if format == STRUCTURED {
		return &l.structuredWriters
	}
	if colored {
		return &l.unstructuredColorWriters
	}
	return &l.unstructuredWriters
}

// rebuild recreates the three zerolog loggers from the current writers, level and context.
func (l *Logger) rebuild() {
	build := func(writers []io.Writer, timestamp bool) zerolog.Logger {
		if len(writers) == 0 {
			return zerolog.Nop()
		}
		ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(l.level).With()
		if timestamp {
			ctx = ctx.Timestamp()
		}
		for i := 0; i+1 < len(l.context); i += 2 {
			ctx = ctx.Str(l.context[i], l.context[i+1])
		}
		return ctx.Logger()
	}

	plain := make([]io.Writer, 0, len(l.unstructuredWriters))
	for _, w := range l.unstructuredWriters {
		plain = append(plain, formatConsoleWriter(zerolog.ConsoleWriter{Out: w, NoColor: true}, l.level))
	}
	colored := make([]io.Writer, 0, len(l.unstructuredColorWriters))
	for _, w := range l.unstructuredColorWriters {
		colored = append(colored, formatConsoleWriter(zerolog.ConsoleWriter{Out: w}, l.level))
	}

	l.structuredLogger = build(l.structuredWriters, true)
	l.unstructuredLogger = build(plain, false)
	l.unstructuredColorLogger = build(colored, false)
}

// Trace logs a trace event.
func (l *Logger) Trace(args ...any) {
	l.emit(zerolog.TraceLevel, args...)
}

// Debug logs a debug event.
func (l *Logger) Debug(args ...any) {
	l.emit(zerolog.DebugLevel, args...)
}

// Info logs an info event.
func (l *Logger) Info(args ...any) {
	l.emit(zerolog.InfoLevel, args...)
}

// Warn logs a warning event.
func (l *Logger) Warn(args ...any) {
	l.emit(zerolog.WarnLevel, args...)
}

// Error logs an error event.
func (l *Logger) Error(args ...any) {
	l.emit(zerolog.ErrorLevel, args...)
}

// emit builds the messages once and sends them to each writer group. Arguments may be colors.ColorFunc values,
// a single StructuredLogInfo, a single error, or anything printable.
func (l *Logger) emit(level zerolog.Level, args ...any) {
	coloredMsg, plainMsg, err, info := buildMsgs(args...)
	withStack := l.level <= zerolog.DebugLevel

	send := func(logger zerolog.Logger, msg string) {
		event := logger.WithLevel(level)
		if event == nil {
			return
		}
		if err != nil {
			event = event.Err(err)
			if withStack {
				event = event.Stack()
			}
		}
		if info != nil {
			event = event.Any("info", info)
		}
		event.Msg(msg)
	}

	send(l.structuredLogger, plainMsg)
	send(l.unstructuredLogger, plainMsg)
	send(l.unstructuredColorLogger, coloredMsg)
}

// buildMsgs returns the colorized and plain renderings of args along with the optional error and structured info.
func buildMsgs(args ...any) (string, string, error, StructuredLogInfo) {
	colorCtx := colors.Reset
	var coloredOutput, plainOutput strings.Builder
	var info StructuredLogInfo
	var err error

	for _, arg := range args {
		switch t := arg.(type) {
		case colors.ColorFunc:
			colorCtx = t
		case StructuredLogInfo:
			info = t
		case error:
			err = t
		default:
			coloredOutput.WriteString(colorCtx(t))
			plainOutput.WriteString(fmt.Sprintf("%v", t))
		}
	}
	return coloredOutput.String(), plainOutput.String(), err, info
}

// formatConsoleWriter drops timestamps and replaces level names with short colored markers.
func formatConsoleWriter(writer zerolog.ConsoleWriter, level zerolog.Level) zerolog.ConsoleWriter {
	writer.FormatTimestamp = func(i any) string {
		return ""
	}
	paint := func(colorFunc colors.ColorFunc, s string) string {
		if writer.NoColor {
			return s
		}
		return colorFunc(s)
	}
	writer.FormatLevel = func(i any) string {
		s, _ := i.(string)
		parsed, err := zerolog.ParseLevel(s)
		if err != nil {
			return s
		}
		switch parsed {
		case zerolog.TraceLevel:
			return paint(colors.CyanBold, zerolog.LevelTraceValue)
		case zerolog.DebugLevel:
			return paint(colors.BlueBold, zerolog.LevelDebugValue)
		case zerolog.InfoLevel:
			return paint(colors.GreenBold, colors.LEFT_ARROW)
		case zerolog.WarnLevel:
			return paint(colors.YellowBold, zerolog.LevelWarnValue)
		case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
			return paint(colors.RedBold, parsed.String())
		default:
			return s
		}
	}

	// The service field is only interesting when debugging.
	if level > zerolog.DebugLevel {
		writer.FieldsExclude = []string{SERVICE_KEY}
	}
	return writer
}
