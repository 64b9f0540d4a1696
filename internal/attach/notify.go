package attach

import "log/slog"

// LogNotifier reports user-facing errors through the logger.
type LogNotifier struct{}

func (LogNotifier) ShowError(msg string) {
	slog.Error("attach", "msg", msg)
}
