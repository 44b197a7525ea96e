package bridge

import (
	"context"
	"log/slog"
	"strings"

	"go.klb.dev/clipshare/internal/mime"
)

// LogContent logs a clipboard event at INFO (kind and formats) and at DEBUG
// (text preview up to 120 chars, or byte size for binary formats).
func LogContent(event, kind string, c mime.Content) {
	keys := c.Keys()
	slog.Info(event, "kind", kind, "formats", keys)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, k := range keys {
		if strings.HasPrefix(k, "text/") {
			preview := string(c[k])
			if len(preview) > 120 {
				preview = preview[:120] + "…"
			}
			slog.Debug("clipboard format", "format", k, "preview", preview)
		} else {
			slog.Debug("clipboard format", "format", k, "size_bytes", len(c[k]))
		}
	}
}
