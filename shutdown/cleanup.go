package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"gen_backend/core"
	"gen_backend/logging"
)

// CleanupScratchFiles returns a handler that removes entries matching
// pattern in dir, for example the per-request scratch files left in the
// generation temp directory. Failures are logged and never fail shutdown.
func CleanupScratchFiles(logger *logging.Logger, dir, pattern string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if dir == "" {
			return nil
		}
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			logger.Error("failed to list scratch files", zap.String("dir", dir), zap.Error(err))
			return nil
		}
		if len(matches) == 0 {
			return nil
		}

		removed, failed := 0, 0
		for _, match := range matches {
			if ctx.Err() != nil {
				logger.Warn("shutdown deadline reached during scratch cleanup",
					zap.Int("removed", removed),
					zap.Int("remaining", len(matches)-removed-failed))
				return nil
			}
			if err := os.RemoveAll(match); err != nil {
				failed++
				logger.Warn("failed to remove scratch file", zap.String("file", filepath.Base(match)), zap.Error(err))
				continue
			}
			removed++
		}

		logger.Info("scratch cleanup complete", zap.String("dir", dir), zap.Int("removed", removed), zap.Int("failed", failed))
		return nil
	}
}
