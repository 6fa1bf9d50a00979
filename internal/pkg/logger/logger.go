package logger

import (
	"log/slog"
	"os"
)

// New builds a JSON slog logger writing to stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info) and installs
// it as the process default so library code using slog.Default shares it.
func New(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(l)
	return l
}
