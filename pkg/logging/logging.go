package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ForTest returns a debug-level logger that writes through t.Log,
// so the output is shown next to the failing test or with go test -v.
func ForTest(t zerolog.TestingLog) zerolog.Logger {
	writer := zerolog.NewConsoleWriter(
		zerolog.ConsoleTestWriter(t),
		func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = time.StampMicro
			w.NoColor = true
			w.FormatCaller = ShortCallerFormatter
		},
	)
	return zerolog.New(writer).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ShortCallerFormatter cuts the caller path down to the file name,
// e.g. /src/pkg/capture/capture.go:42 becomes capture.go:42
func ShortCallerFormatter(i any) string {
	caller, ok := i.(string)
	if !ok || caller == "" {
		return ""
	}
	if idx := strings.LastIndexByte(caller, '/'); idx >= 0 {
		caller = caller[idx+1:]
	}
	return fmt.Sprintf("%s >", caller)
}
