package attach

import (
	"context"
	"fmt"
	"log/slog"

	"notekit/internal/config"
	"notekit/internal/markup"
)

// HandleDownloadMode queues the resources linked from body when the download
// mode is automatic.
func (a *Attacher) HandleDownloadMode(ctx context.Context, body string) error {
	if body == "" || a.cfg.DownloadMode != config.DownloadModeAuto || a.downloader == nil {
		return nil
	}
	ids := markup.LinkedResourceIDs(body)
	if len(ids) == 0 {
		return nil
	}
	if err := a.downloader.MarkForDownload(ctx, ids); err != nil {
		return fmt.Errorf("mark for download: %w", err)
	}
	slog.Debug("queued resources", "count", len(ids))
	return nil
}
