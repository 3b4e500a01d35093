// scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler re-derives reminder timers from the store.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

const jobTimeout = 50 * time.Second

// StartScheduler runs Reconcile on spec (cron with seconds) until ctx is
// done. The returned cron is already started.
func StartScheduler(ctx context.Context, spec string, r Reconciler) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(spec, func() {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		if err := r.Reconcile(jobCtx); err != nil {
			log.Printf("[scheduler] ❌ reconcile failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	c.Start()
	log.Printf("[scheduler] started, reconciling on %q", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Println("[scheduler] stopped")
	}()
	return c, nil
}
