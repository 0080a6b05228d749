// Package log wraps zerolog with the gateway's component conventions.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger options.
type Config struct {
	Level   string    // debug, info, warn, error
	Format  string    // json or text
	Output  io.Writer // defaults to os.Stdout
	Service string
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", "wol-gateway").Logger()
)

// Configure rebuilds the base logger. It may be called again after a config reload.
func Configure(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	SetLevel(cfg.Level)

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "text") {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "2006/01/02 15:04:05"}
	}

	service := cfg.Service
	if service == "" {
		service = "wol-gateway"
	}

	l := zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()

	mu.Lock()
	base = l
	mu.Unlock()
}

// SetLevel sets the global level; unknown values fall back to info.
func SetLevel(level string) {
	parsed := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			parsed = l
		}
	}
	zerolog.SetGlobalLevel(parsed)
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}
