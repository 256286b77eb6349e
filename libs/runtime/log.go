package runtime

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fomo-app/fomo/libs/config"
)

// NewLogger builds the process logger: JSON on stdout, tagged with the service name.
// LOG_LEVEL selects debug, info, warn or error (default info). Debug records carry their source.
func NewLogger(service string) *slog.Logger {
	level := parseLevel(config.String("LOG_LEVEL", "info"))
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return slog.New(h).With("service", service, "env", config.String("APP_ENV", "local"))
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
