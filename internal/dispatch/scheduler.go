package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// DefaultTickInterval is the scheduler's cron evaluation resolution.
const DefaultTickInterval = time.Second

// cronParser accepts standard five-field expressions plus an optional leading
// seconds field and @descriptors, matching what validation accepts at Put.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires schedule-triggered workflows on their cron expressions. It
// evaluates every active schedule definition once per tick; a tick missed
// while the process was down is not backfilled, only the next future match
// fires.
type Scheduler struct {
	dispatcher *Dispatcher
	clock      clock.Clock
	interval   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastTick time.Time
}

// NewScheduler creates a Scheduler ticking at the given interval
// (DefaultTickInterval when zero).
func NewScheduler(dispatcher *Dispatcher, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatcher: dispatcher,
		clock:      clk,
		interval:   interval,
		logger:     logger,
	}
}

// Start launches the background ticking loop. The window opens at the
// current time: past cron matches never fire.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastTick = s.clock.Now().UTC()
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", "interval", s.interval.String())
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates all active schedule workflows against the window
// (lastTick, now] and fires those with a cron match inside it.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	since := s.lastTick
	if since.IsZero() {
		since = now
	}
	s.lastTick = now
	s.mu.Unlock()

	defs, err := s.dispatcher.definitions.ListActive(ctx, schema.TriggerSchedule)
	if err != nil {
		s.logger.Error("list schedule workflows", "error", err.Error())
		return
	}

	for _, def := range defs {
		var cfg schema.ScheduleTriggerConfig
		if err := json.Unmarshal(def.Definition.TriggerConfig, &cfg); err != nil || cfg.Cron == "" {
			continue
		}
		sched, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			s.logger.Warn("invalid cron expression on active workflow",
				"workflow_id", def.WorkflowID,
				"cron", cfg.Cron,
			)
			continue
		}

		next := sched.Next(since)
		if next.IsZero() || next.After(now) {
			continue
		}

		input, _ := json.Marshal(map[string]any{"scheduled_at": next.UTC().Format(time.RFC3339)})
		if _, err := s.dispatcher.fire(ctx, def, schema.TriggerSchedule, input, TriggerOptions{TriggeredBy: "scheduler"}); err != nil {
			s.logger.Error("fire scheduled workflow",
				"workflow_id", def.WorkflowID,
				"error", err.Error(),
			)
		}
	}
}

// Stop shuts the scheduler down and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
}
