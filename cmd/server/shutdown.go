package main

import (
	"context"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// waitDrain gives in-flight requests and the load balancer d to notice the
// closed readiness gate. A second signal on force skips the wait.
func waitDrain(ctx context.Context, L log.Logger, d time.Duration, force <-chan os.Signal) bool {
	L.Info(ctx, "sleeping for drain period", "drain_seconds", int(d/time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
		return true
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
		return false
	}
}

// shutdownAll stops components in order. Each gets an equal slice of budget
// and a failure does not stop the rest.
func shutdownAll(L log.Logger, budget time.Duration, stops []stopFn) {
	if len(stops) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(stops))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stops {
		cctx, ccancel := context.WithTimeout(ctx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(ctx, err, s.name+" shutdown")
		}
		ccancel()
	}
}
