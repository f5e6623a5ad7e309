package core

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogEnv names the environment variable selecting the log level.
const LogEnv = "TOHNSW_LOG"

func init() {
	ConfigureLogLevel(os.Getenv(LogEnv))
}

// ConfigureLogLevel sets the global zerolog level from a TOHNSW_LOG value.
// "off" or "0" silences logging and "full" enables debug output. Any zerolog
// level name is accepted as well; everything else falls back to info.
func ConfigureLogLevel(value string) zerolog.Level {
	level := zerolog.InfoLevel
	switch mode := strings.TrimSpace(strings.ToLower(value)); mode {
	case "off", "0":
		level = zerolog.Disabled
	case "full":
		level = zerolog.DebugLevel
	case "":
	default:
		if parsed, err := zerolog.ParseLevel(mode); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	return level
}
