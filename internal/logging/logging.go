// Package logging builds the process logger.
//
// Lines are JSON on stdout unless PRETTY=1, which switches to a console
// writer on stderr. DEBUG=1 lowers the level to debug. The packages below
// take a Printf-only Logger; *zerolog.Logger satisfies it, so the existing
// "stage=x key=value" messages end up in the "message" field.
package logging

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options overrides the environment; zero values defer to it.
type Options struct {
	Out    io.Writer
	Pretty bool
	Debug  bool
	// Component is added as a field to every line.
	Component string
}

func init() {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			if slash := strings.LastIndex(name, "/"); slash > 0 {
				name = name[slash+1:]
			}
			function = " " + name + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

// New returns a logger configured from opts and the environment.
func New(opts Options) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty || os.Getenv("PRETTY") == "1" {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		if opts.Out != nil {
			cw.Out = opts.Out
			cw.NoColor = true
		}
		out = cw
	}

	level := zerolog.InfoLevel
	if opts.Debug || os.Getenv("DEBUG") == "1" {
		level = zerolog.DebugLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	l := ctx.Logger().Hook(callerHook{})
	return &l
}

// Job returns a child logger tagged with the job name.
func Job(l *zerolog.Logger, name string) *zerolog.Logger {
	c := l.With().Str("job", name).Logger()
	return &c
}

type callerHook struct{}

// Run adds the call site of the Printf that produced the event.
func (callerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(4)
}
