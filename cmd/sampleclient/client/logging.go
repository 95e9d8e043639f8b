package client

import (
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// LeveledLogger routes retryablehttp diagnostics to a zerolog.Logger
type LeveledLogger struct {
	log zerolog.Logger
}

var _ retryablehttp.LeveledLogger = LeveledLogger{}

func NewLeveledLogger(log zerolog.Logger) LeveledLogger {
	return LeveledLogger{log: log.With().Str("component", "retryablehttp").Logger()}
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Fields(keysAndValues).Msg(msg)
}

// Debug is mapped to trace: retryablehttp logs every request at debug, which
// the request hook already covers.
func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

// requestLogHook logs a summary of each outgoing request attempt, without headers or body
func requestLogHook(log zerolog.Logger) retryablehttp.RequestLogHook {
	return func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		log.Info().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Int("attempt", attempt+1).
			Msg("Client request")
	}
}

// responseLogHook logs the status line of each response
func responseLogHook(log zerolog.Logger) retryablehttp.ResponseLogHook {
	return func(_ retryablehttp.Logger, resp *http.Response) {
		evt := log.Info()
		if resp.StatusCode >= 400 {
			evt = log.Warn()
		}
		evt.Str("status", resp.Status).
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("Client response")
	}
}
