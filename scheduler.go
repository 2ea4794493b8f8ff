package conduit

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Scheduler is the cron-driven ScheduledPrompt source: a ticking loop
// that polls a ScheduledActionStore for due actions and funnels each one
// through the same path AgentRunner consumes prompts from a live
// Surface, via Engine.RunPrompt.
type Scheduler struct {
	store  ScheduledActionStore
	engine *Engine
	logger *slog.Logger
	tz     int
	every  time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the structured logger used for lifecycle and
// per-action events.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimezoneOffset sets the hours-east-of-UTC used to interpret every
// action's "HH:MM <recurrence>" schedule. Default 0 (UTC).
func WithTimezoneOffset(hours int) SchedulerOption {
	return func(s *Scheduler) { s.tz = hours }
}

// WithPollInterval overrides the default 60s due-action poll cadence.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.every = d
		}
	}
}

// NewScheduler builds a Scheduler polling store for actions due against
// engine's registered surfaces.
func NewScheduler(store ScheduledActionStore, engine *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:  store,
		engine: engine,
		logger: nopLogger,
		every:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the scheduling loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started")
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

func (s *Scheduler) checkAndRun(ctx context.Context) {
	now := NowUnix()
	due, err := s.store.DueScheduledActions(ctx, now)
	if err != nil {
		s.logger.Error("due actions query failed", "error", err)
		return
	}
	for _, action := range due {
		s.fire(ctx, action, now)
	}
}

// fire provisions a new "Scheduled task" thread for action on every
// firing, submits its prompt
// body, and reschedules or disables the action depending on whether its
// schedule recurs. When the owning surface doesn't support scheduled
// notifications, the run's output is drained rather than registered with
// ResponseFanOut: the prompt still executes (tool side effects remain
// observable) but nothing is pushed back at the surface.
func (s *Scheduler) fire(ctx context.Context, action ScheduledAction, now int64) {
	surface, ok := s.engine.Surface(action.AgentID)
	if !ok {
		s.logger.Error("no surface registered for scheduled action", "agent", action.AgentID, "action_id", action.ID)
		s.reschedule(ctx, action, now)
		return
	}

	convID, err := strconv.ParseInt(action.UserID, 10, 64)
	if err != nil {
		s.logger.Error("scheduled action has non-numeric user id", "user_id", action.UserID, "action_id", action.ID)
		s.reschedule(ctx, action, now)
		return
	}

	threadID, err := surface.ProvisionThread(ctx, convID, "Scheduled task")
	if err != nil {
		s.logger.Error("provision failed for scheduled action", "action_id", action.ID, "error", err)
		return
	}
	key := ThreadKey{ConvID: convID, ThreadID: threadID, AgentID: action.AgentID}

	prompt := Prompt{
		ID:        action.ID,
		Key:       key,
		SenderID:  action.UserID,
		Body:      action.Body,
		Timestamp: now,
	}

	out := s.engine.RunPrompt(ctx, prompt)
	if surface.SupportsScheduledNotifications() {
		s.engine.FanOut().Register(key, out)
	} else {
		go discardTriples(out)
	}

	s.logger.Info("scheduled action fired", "action_id", action.ID, "agent", action.AgentID)
	s.reschedule(ctx, action, now)
}

func discardTriples(out <-chan StreamTriple) {
	for range out {
	}
}

func (s *Scheduler) reschedule(ctx context.Context, action ScheduledAction, now int64) {
	if isOneShotSchedule(action.Schedule) {
		if err := s.store.RescheduleOrDisable(ctx, action.ID, action.NextRun, false); err != nil {
			s.logger.Error("disable one-shot action failed", "action_id", action.ID, "error", err)
		}
		return
	}

	nextRun, ok := ComputeNextRun(action.Schedule, now, s.tz)
	if !ok {
		nextRun = now + 86400
	}
	if err := s.store.RescheduleOrDisable(ctx, action.ID, nextRun, true); err != nil {
		s.logger.Error("reschedule action failed", "action_id", action.ID, "error", err)
	}
}

func isOneShotSchedule(schedule string) bool {
	return strings.HasSuffix(strings.TrimSpace(schedule), "once")
}
