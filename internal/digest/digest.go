// Package digest periodically posts the signals that still need attention.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

// Notifier delivers a digest.
type Notifier interface {
	SendDigest(ctx context.Context, signals []signal.Signal, now time.Time) error
}

// ParseSchedule validates a standard 5-field cron expression or a descriptor
// such as "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	return s, nil
}

// Active returns the deep focus view restricted to open and in-progress signals.
func Active(signals []signal.Signal) []signal.Signal {
	critical := signal.FilterAndSort(signals, signal.FocusDeepFocus)
	out := critical[:0]
	for _, s := range critical {
		if s.Status.Active() {
			out = append(out, s)
		}
	}
	return out
}

// Scheduler runs the digest on a cron schedule.
type Scheduler struct {
	spec     string
	cron     *cron.Cron
	store    signal.Store
	notifier Notifier
	logger   log.Logger
	now      func() time.Time
}

// New validates spec and returns a stopped Scheduler.
func New(spec string, store signal.Store, notifier Notifier, logger log.Logger) (*Scheduler, error) {
	if store == nil || notifier == nil {
		panic(xerrors.New("digest.New: store and notifier are required"))
	}
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		spec:     strings.TrimSpace(spec),
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start begins firing on the schedule. ctx is used for every run.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error(ctx, err, "digest run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}
	s.cron.Start()
	s.logger.Info(ctx, "digest scheduled", "schedule", s.spec)
	return nil
}

// Stop halts the schedule and waits for a running digest to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce posts the current digest.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	all, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}
	active := Active(all)
	if err := s.notifier.SendDigest(ctx, active, s.now()); err != nil {
		return err
	}
	s.logger.Info(ctx, "digest posted", "signals", len(active), "total", len(all))
	return nil
}
