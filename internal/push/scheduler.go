package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/organizer/internal/store"
)

// Scheduler runs the reminder sweep: once per minute it finds tasks due
// today with the alarm flag set and notifies their owners.
type Scheduler struct {
	mu       sync.RWMutex
	sender   Sender
	tasks    *store.TaskStore
	push     *store.PushStore
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(sender Sender, taskStore *store.TaskStore, pushStore *store.PushStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sender:   sender,
		tasks:    taskStore,
		push:     pushStore,
		interval: 60 * time.Second,
		logger:   logger,
	}
}

// Start begins the sweep loop. Only one loop runs per process; sweeps are
// not mutually excluded against each other, so a slow sweep may overlap the
// next tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep runs one reminder pass over today's window in the server's local
// time zone: [00:00:00.000, 23:59:59.999).
func (s *Scheduler) Sweep() {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24*time.Hour - time.Millisecond)
	s.SweepBetween(start, end)
}

// SweepBetween reminds owners of alarmed tasks due in [start, end). Tasks
// are processed concurrently with no ordering guarantee; one task's failure
// never blocks another's. Only the store read can abort the pass.
func (s *Scheduler) SweepBetween(start, end time.Time) {
	reminders, err := s.tasks.ListDueBetween(start, end)
	if err != nil {
		s.logger.Error("list due tasks", "error", err)
		return
	}
	if len(reminders) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, r := range reminders {
		wg.Add(1)
		go func(r store.Reminder) {
			defer wg.Done()
			s.remind(r)
		}(r)
	}
	wg.Wait()
}

func (s *Scheduler) remind(r store.Reminder) {
	if r.Task.UserID == nil || r.Subscription == nil {
		s.logger.Debug("no subscription for task owner", "task_id", r.Task.ID)
		return
	}

	userID := *r.Task.UserID

	if !r.Subscription.Valid() {
		// Present but missing endpoint or keys; unusable, drop it.
		s.logger.Warn("clearing malformed subscription", "user_id", userID)
		if err := s.push.DeleteByUser(userID); err != nil {
			s.logger.Error("clear subscription", "user_id", userID, "error", err)
		}
		return
	}

	payload := Payload{
		Title:   "Task Reminder",
		Message: fmt.Sprintf("Task %q is due soon.", r.Task.Title),
	}

	if err := s.sender.Send(r.Subscription, payload); err != nil {
		if errors.Is(err, ErrSubscriptionGone) || errors.Is(err, ErrInvalidSubscription) {
			s.logger.Info("subscription gone, clearing", "user_id", userID)
			if derr := s.push.DeleteByUser(userID); derr != nil {
				s.logger.Error("clear subscription", "user_id", userID, "error", derr)
			}
			return
		}
		// No retry within the sweep; the task stays eligible next tick.
		s.logger.Error("send reminder", "task_id", r.Task.ID, "error", err)
	}
}
