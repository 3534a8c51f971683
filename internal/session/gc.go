package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartSweeper launches the background idle-session reaper. It sweeps
// every interval until ctx is cancelled; errors are logged and never
// stop the sweeper. The returned channel closes when the goroutine
// exits, letting the daemon synchronize shutdown.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							log.Error().Interface("panic", rec).Msg("session sweeper: recovered from panic")
						}
					}()
					if reaped := r.SweepIdle(); len(reaped) > 0 {
						log.Info().Strs("session_ids", reaped).Msg("reaped idle sessions")
					}
				}()
			}
		}
	}()
	return done
}
