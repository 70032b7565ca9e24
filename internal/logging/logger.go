// Package logging configures zerolog for the buildgate binaries and defines
// the JSON records written as WAL payloads.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// #region profile
// Profile selects process-wide zerolog defaults.
type Profile int

const (
	// ProfileRuntime logs at info with RFC3339Nano timestamps.
	ProfileRuntime Profile = iota
	// ProfileTest silences everything below error.
	ProfileTest
)

var configureOnce sync.Once

// Configure applies profile-wide zerolog settings. Only the first call has
// any effect.
func Configure(p Profile) {
	configureOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.DurationFieldUnit = time.Millisecond
		switch p {
		case ProfileTest:
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		}
	})
}

// #endregion profile

// #region logger
// Options describe one logger. The zero value writes console output to
// stderr at info level with timestamps off.
type Options struct {
	App       string
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	JSON      bool   `env:"LOG_JSON" envDefault:"false"`
	Timestamp bool   `env:"LOG_TIMESTAMP" envDefault:"true"`
	Out       io.Writer
}

// New builds a logger from opts. An unparseable level falls back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger()
}

// Init builds a logger with New and installs it as the zerolog/log global.
func Init(opts Options) zerolog.Logger {
	Configure(ProfileRuntime)
	logger := New(opts)
	log.Logger = logger
	return logger
}

// #endregion logger
