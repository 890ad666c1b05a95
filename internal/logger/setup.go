package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup builds the daemon's own structured logger: debug toggles verbosity,
// noTimestamp strips the time attribute (grounded on ColorTextHandler's
// practice of wrapping slog.TextHandler to adjust formatting without
// reimplementing it). When cfg names a log file, it is rotated via
// lumberjack (Config.ProcessWriters); otherwise the daemon logs to stderr.
func Setup(cfg Config, debug, noTimestamp bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if noTimestamp {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}

	var w io.Writer = os.Stderr
	if cfg.File.StdoutPath != "" || cfg.File.Dir != "" {
		if out, _, err := cfg.ProcessWriters("cid"); err == nil && out != nil {
			w = out
		}
	}
	return slog.New(NewColorTextHandler(w, opts, !noTimestamp))
}
