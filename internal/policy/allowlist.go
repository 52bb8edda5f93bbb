package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
)

// AllowListTaskName names the allow-list refresh slot.
const AllowListTaskName = "AllowedIpList"

// AllowListTask rebuilds the country allow-list on every tick.
// A failed refresh is tolerated while a previous list exists on disk; without
// one, nginx cannot load its geo map and the failure is returned.
type AllowListTask struct {
	builder domain.AllowListBuilder
	fs      domain.FileSystemManager
	logger  *zap.Logger
}

// NewAllowListTask creates the allow-list refresh task.
func NewAllowListTask(builder domain.AllowListBuilder, fs domain.FileSystemManager, logger *zap.Logger) *AllowListTask {
	return &AllowListTask{
		builder: builder,
		fs:      fs,
		logger:  logger.With(zap.String("task", AllowListTaskName)),
	}
}

func (t *AllowListTask) Name() string {
	return AllowListTaskName
}

// Setup does nothing; the first refresh happens in the startup tick.
func (t *AllowListTask) Setup(ctx context.Context) error {
	return nil
}

// OnTimer rebuilds the allow-list file.
func (t *AllowListTask) OnTimer(ctx context.Context) error {
	result, err := t.builder.Rebuild(ctx)
	if err != nil {
		path := t.builder.Path()
		if t.fs.Exists(path) {
			t.logger.Warn("allow-list refresh failed, keeping previous list",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("allow-list %s unavailable: %w", path, err)
	}

	metrics.AllowListPrefixes.Set(float64(result.Prefixes))
	return nil
}

var (
	_ domain.Setupable = (*AllowListTask)(nil)
	_ domain.Timed     = (*AllowListTask)(nil)
)
