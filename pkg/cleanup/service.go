package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskcast/taskcast/pkg/models"
	"github.com/taskcast/taskcast/pkg/store"
)

// Service periodically enforces retention rules against the short-term store:
//   - target "all" removes the matched task with its events and series state
//   - target "events" removes only the events the rule's filter selects
//
// Global rules apply to every task; a task's own cleanup config appends to
// them. All operations are idempotent and safe to run from multiple instances.
type Service struct {
	store    store.ShortTermStore
	rules    []models.CleanupRule
	interval time.Duration
	now      func() float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service applying the given global rules.
func NewService(st store.ShortTermStore, rules []models.CleanupRule, interval time.Duration) *Service {
	return &Service{
		store:    st,
		rules:    rules,
		interval: interval,
		now: func() float64 {
			return float64(time.Now().UnixMilli())
		},
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"global_rules", len(s.rules),
		"interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies every applicable rule to every task in the store.
func (s *Service) RunOnce(ctx context.Context) {
	taskIDs, err := s.store.ListTaskIDs(ctx)
	if err != nil {
		slog.Error("Cleanup: listing tasks failed", "error", err)
		return
	}

	now := s.now()
	for _, taskID := range taskIDs {
		if err := s.cleanTask(ctx, taskID, now); err != nil {
			slog.Error("Cleanup: task pass failed", "task_id", taskID, "error", err)
		}
	}
}

func (s *Service) cleanTask(ctx context.Context, taskID string, now float64) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	rules := s.rules
	if task.Cleanup != nil {
		rules = append(append([]models.CleanupRule{}, rules...), task.Cleanup.Rules...)
	}

	for _, rule := range rules {
		if !MatchesRule(*task, rule, now) {
			continue
		}

		if rule.Target == models.CleanupTargetAll {
			if err := s.store.DeleteTask(ctx, taskID); err != nil {
				return err
			}
			slog.Info("Cleanup: removed task", "task_id", taskID, "rule", rule.Name)
			return nil
		}

		events, err := s.store.GetEvents(ctx, taskID, nil)
		if err != nil {
			return err
		}
		matched := FilterEvents(events, rule, task.CompletedAt)
		if len(matched) == 0 {
			continue
		}
		ids := make([]string, len(matched))
		for i, event := range matched {
			ids[i] = event.ID
		}
		if err := s.store.DeleteEvents(ctx, taskID, ids); err != nil {
			return err
		}
		slog.Info("Cleanup: removed events", "task_id", taskID, "rule", rule.Name, "count", len(ids))
	}
	return nil
}
