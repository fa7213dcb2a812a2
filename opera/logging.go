package opera

import (
	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"
)

// LogConfig controls structured logging and, optionally, error reporting to
// Sentry for the epoch manager process.
type LogConfig struct {
	// Level is the minimum logrus level emitted ("debug", "info", "warn",
	// "error"). Empty defaults to "info".
	Level string
	// JSON switches the formatter from human-readable text to JSON, for
	// environments that ingest logs as structured records.
	JSON bool
	// SentryDSN, if non-empty, wires a Sentry hook reporting Error level and
	// above.
	SentryDSN string
}

// NewLogger builds a logrus.Logger per cfg. Errors wiring the Sentry hook
// are returned rather than swallowed: a misconfigured DSN should fail
// startup, not silently disable error reporting.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	if cfg.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(cfg.SentryDSN, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			return nil, err
		}
		log.AddHook(hook)
	}

	return log, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
