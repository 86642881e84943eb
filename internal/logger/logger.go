package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/env"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorCyan    = 36

	colorBold = 1
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New creates a logger based on the ENV environment variable. level is parsed
// with zerolog.ParseLevel; an empty or invalid level falls back to info.
func New(level string) zerolog.Logger {
	return newFor(os.Stderr).Level(ParseLevel(level))
}

// newFor picks the writer format from the ENV variable or Worker binding
func newFor(out io.Writer) zerolog.Logger {
	mode, _ := env.Get("ENV")

	if mode == "development" || mode == "dev" || mode == "" {
		return NewDevelopment(out)
	}
	return NewProduction(out)
}

// ParseLevel maps a textual level to a zerolog.Level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewDevelopment creates a development logger with console output and colors
func NewDevelopment(out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%s", i))
			}
			switch ll {
			case "trace":
				return colorize("TRC", colorMagenta)
			case "debug":
				return colorize("DBG", colorYellow)
			case "info":
				return colorize("INF", colorGreen)
			case "warn":
				return colorize("WRN", colorRed)
			case "error":
				return colorize("ERR", colorRed)
			case "fatal":
				return colorize("FTL", colorRed)
			case "panic":
				return colorize("PNC", colorRed)
			}
			if len(ll) >= 3 {
				return colorize(strings.ToUpper(ll)[0:3], colorBold)
			}
			return colorize(strings.ToUpper(ll), colorBold)
		},
		FormatFieldName: func(i interface{}) string {
			return colorize(fmt.Sprintf("%s=", i), colorCyan)
		},
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction creates a production logger with JSON output and UNIX timestamps
func NewProduction(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// TokenPreview returns a sanitized form of a bearer token suitable for logs
func TokenPreview(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 12 {
		return token[:6] + "…" + token[len(token)-6:]
	}
	if token == "" {
		return "<empty>"
	}
	return "<redacted>"
}
