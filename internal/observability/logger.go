package observability

import (
	"log/slog"
	"os"
)

// basic global logger, JSON to stderr.
var logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

func Logger() *slog.Logger {
	return logger
}

// WithConversation returns a logger carrying the identifiers every
// per-message log line must have for traceability.
func WithConversation(conversationID, messageID string) *slog.Logger {
	return logger.With("conversation_id", conversationID, "message_id", messageID)
}

// SetLevel replaces the global logger with one filtering below level.
func SetLevel(level slog.Level) {
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
