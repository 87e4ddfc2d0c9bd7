package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuda/appexplorer/internal/rpc"
)

// DefaultPollInterval is how often WaitForConnection checks the registry.
const DefaultPollInterval = 500 * time.Millisecond

// WaitForConnection blocks until at least one board is connected. It checks
// ctx on every tick and returns its error once cancelled.
func WaitForConnection(ctx context.Context, registry *rpc.Registry, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if registry.Len() > 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("reconcile.WaitForConnection: %w", ctx.Err())
		case <-ticker.C:
			if registry.Len() > 0 {
				return nil
			}
		}
	}
}
