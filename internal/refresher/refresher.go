package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/Redflag/internal/config"
	"github.com/MikeSquared-Agency/Redflag/internal/hermes"
	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
)

const (
	TriggerSchedule = "schedule"
	TriggerRating   = "rating"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// Weigher recomputes and publishes the weight catalog.
type Weigher interface {
	RefreshWeights(ctx context.Context, trigger string) (*scoring.NormalizeReport, error)
}

// Refresher keeps question weights current. It runs a full recomputation on a cron
// schedule and, when enabled, after importance ratings arrive. Concurrent triggers
// collapse into a single run.
type Refresher struct {
	weigher Weigher
	hermes  hermes.Client
	cfg     config.RefreshConfig
	logger  *slog.Logger

	cron    *cron.Cron
	group   singleflight.Group
	pending chan string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(w Weigher, h hermes.Client, cfg config.RefreshConfig, logger *slog.Logger) (*Refresher, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return &Refresher{
		weigher: w,
		hermes:  h,
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(loc)),
		pending: make(chan string, 1),
		stopCh:  make(chan struct{}),
	}, nil
}

func scheduleEnabled(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s != "" && s != "off" && s != "disabled"
}

// Start registers the schedule and the rating subscription and starts the trigger loop.
func (r *Refresher) Start(ctx context.Context) error {
	if scheduleEnabled(r.cfg.Schedule) {
		if _, err := r.cron.AddFunc(r.cfg.Schedule, func() {
			r.run(ctx, TriggerSchedule)
		}); err != nil {
			return fmt.Errorf("adding cron entry %q: %w", r.cfg.Schedule, err)
		}
	}

	if r.cfg.OnRating && r.hermes != nil {
		if err := r.hermes.Subscribe(hermes.SubjectImportanceRatedAll, func(subject string, _ []byte) {
			r.logger.Debug("importance rated, scheduling recompute", "subject", subject)
			r.Trigger(TriggerRating)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", hermes.SubjectImportanceRatedAll, err)
		}
	}

	r.wg.Add(1)
	go r.triggerLoop(ctx)
	r.cron.Start()

	r.logger.Info("weight refresher started", "schedule", r.cfg.Schedule, "on_rating", r.cfg.OnRating)
	return nil
}

// Stop halts the schedule and waits for any in-flight recomputation.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Trigger queues a recomputation. If one is already queued the call is a no-op.
func (r *Refresher) Trigger(reason string) {
	select {
	case r.pending <- reason:
	default:
	}
}

// RunNow recomputes immediately, sharing the result with any run already in flight.
func (r *Refresher) RunNow(ctx context.Context) (*scoring.NormalizeReport, error) {
	return r.do(ctx, TriggerManual)
}

func (r *Refresher) triggerLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case reason := <-r.pending:
			r.run(ctx, reason)
		}
	}
}

func (r *Refresher) run(ctx context.Context, trigger string) {
	if _, err := r.do(ctx, trigger); err != nil {
		r.logger.Error("weight recompute failed", "trigger", trigger, "error", err)
	}
}

func (r *Refresher) do(ctx context.Context, trigger string) (*scoring.NormalizeReport, error) {
	v, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		return r.weigher.RefreshWeights(ctx, trigger)
	})
	if shared {
		r.logger.Debug("weight recompute coalesced", "trigger", trigger)
	}
	if err != nil {
		return nil, err
	}
	return v.(*scoring.NormalizeReport), nil
}
