package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/pkg/broadcast"
	"github.com/taskcast/taskcast/pkg/models"
	"github.com/taskcast/taskcast/pkg/store"
)

func newTestEngine() *Engine {
	return New(Options{
		ShortTerm: store.NewMemoryStore(),
		Broadcast: broadcast.NewMemoryProvider(),
	})
}

func publishInput(eventType string, data any) models.PublishEventInput {
	return models.PublishEventInput{Type: eventType, Level: models.LevelInfo, Data: data}
}

func TestCreateTaskDefaults(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, models.CreateTaskInput{Type: "crawl"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID, "id synthesized when absent")
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.Nil(t, task.CompletedAt)

	got, err := e.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestCreateTaskKeepsCallerID(t *testing.T) {
	e := newTestEngine()

	task, err := e.CreateTask(context.Background(), models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	e := newTestEngine()

	task, err := e.GetTask(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestTransitionTaskLifecycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)

	running, err := e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, running.Status)
	assert.Nil(t, running.CompletedAt)

	completed, err := e.TransitionTask(ctx, "t1", models.StatusCompleted, &models.TransitionPayload{
		Result: map[string]any{"output": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, completed.UpdatedAt, *completed.CompletedAt)
	assert.Equal(t, map[string]any{"output": "x"}, completed.Result)
}

func TestTransitionTaskEmitsStatusEvent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	events, err := e.GetEvents(ctx, "t1", nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusEventType, events[0].Type)
	assert.Equal(t, uint64(0), events[0].Index)

	data, ok := events[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, data["status"])
}

func TestTransitionTaskInvalid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)

	_, err = e.TransitionTask(ctx, "t1", models.StatusCompleted, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatusPending, invalid.From)
	assert.Equal(t, models.StatusCompleted, invalid.To)
	assert.Contains(t, invalid.Error(), "Invalid transition")

	// no state change, no event
	task, err := e.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	events, err := e.GetEvents(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTransitionTaskNotFound(t *testing.T) {
	e := newTestEngine()

	_, err := e.TransitionTask(context.Background(), "nope", models.StatusRunning, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTransitionPayloadMergesOverExisting(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, &models.TransitionPayload{
		Result: map[string]any{"partial": true},
	})
	require.NoError(t, err)

	// absent payload fields preserve existing values
	failed, err := e.TransitionTask(ctx, "t1", models.StatusFailed, &models.TransitionPayload{
		Error: &models.TaskError{Message: "boom"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"partial": true}, failed.Result)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", failed.Error.Message)
}

func TestTransitionHooksFire(t *testing.T) {
	var mu sync.Mutex
	var failed, timedOut []string
	hooks := &Hooks{
		OnTaskFailed: func(task models.Task) {
			mu.Lock()
			failed = append(failed, task.ID)
			mu.Unlock()
		},
		OnTaskTimeout: func(task models.Task) {
			mu.Lock()
			timedOut = append(timedOut, task.ID)
			mu.Unlock()
		},
	}
	e := New(Options{
		ShortTerm: store.NewMemoryStore(),
		Broadcast: broadcast.NewMemoryProvider(),
		Hooks:     hooks,
	})
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: id})
		require.NoError(t, err)
		_, err = e.TransitionTask(ctx, id, models.StatusRunning, nil)
		require.NoError(t, err)
	}
	_, err := e.TransitionTask(ctx, "t1", models.StatusFailed, nil)
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t2", models.StatusTimeout, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, failed)
	assert.Equal(t, []string{"t2"}, timedOut)
}

func TestPublishEventAssignsIndices(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	event, err := e.PublishEvent(ctx, "t1", publishInput("progress", map[string]any{"percent": 50}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.Index, "status event took index 0")
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "t1", event.TaskID)
}

func TestPublishEventTerminalLockout(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusCompleted, nil)
	require.NoError(t, err)

	before, err := e.GetEvents(ctx, "t1", nil)
	require.NoError(t, err)

	_, err = e.PublishEvent(ctx, "t1", publishInput("progress", nil))
	var terminal *TaskTerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, models.StatusCompleted, terminal.Status)

	after, err := e.GetEvents(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "no event emitted after terminal")
}

func TestPublishEventTaskNotFound(t *testing.T) {
	e := newTestEngine()

	_, err := e.PublishEvent(context.Background(), "nope", publishInput("progress", nil))
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestPublishEventConcurrentIndexDensity(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	const n = 40
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event, err := e.PublishEvent(ctx, "t1", publishInput("progress", nil))
			assert.NoError(t, err)
			results <- event.Index
		}()
	}
	wg.Wait()
	close(results)

	var indices []uint64
	for idx := range results {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	require.Len(t, indices, n)
	// contiguous range above the status event's index 0
	for i, idx := range indices {
		assert.Equal(t, uint64(i+1), idx)
	}
}

func TestTwoEnginesSharingStoreKeepIndicesUnique(t *testing.T) {
	shared := store.NewMemoryStore()
	bus := broadcast.NewMemoryProvider()
	a := New(Options{ShortTerm: shared, Broadcast: bus})
	b := New(Options{ShortTerm: shared, Broadcast: bus})
	ctx := context.Background()

	_, err := a.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = a.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	const perEngine = 30
	results := make(chan uint64, 2*perEngine)
	var wg sync.WaitGroup
	for _, eng := range []*Engine{a, b} {
		for i := 0; i < perEngine; i++ {
			wg.Add(1)
			go func(eng *Engine) {
				defer wg.Done()
				event, err := eng.PublishEvent(ctx, "t1", publishInput("progress", nil))
				assert.NoError(t, err)
				results <- event.Index
			}(eng)
		}
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for idx := range results {
		require.False(t, seen[idx], "index %d assigned twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, 2*perEngine)
	for k := uint64(1); k <= 2*perEngine; k++ {
		assert.True(t, seen[k], "index %d missing from the contiguous range", k)
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var received []models.TaskEvent
	unsubscribe, err := e.Subscribe(ctx, "t1", func(event models.TaskEvent) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = e.PublishEvent(ctx, "t1", publishInput("progress", map[string]any{"p": 1}))
	require.NoError(t, err)
	_, err = e.PublishEvent(ctx, "t1", publishInput("progress", map[string]any{"p": 2}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, uint64(1), received[0].Index)
	assert.Equal(t, uint64(2), received[1].Index)
}

func TestSeriesLatestThroughEngine(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	var last models.TaskEvent
	for i := 0; i < 3; i++ {
		last, err = e.PublishEvent(ctx, "t1", models.PublishEventInput{
			Type:       "snapshot",
			Level:      models.LevelInfo,
			Data:       map[string]any{"n": i},
			SeriesID:   "s1",
			SeriesMode: models.SeriesLatest,
		})
		require.NoError(t, err)
	}

	events, err := e.GetEvents(ctx, "t1", nil)
	require.NoError(t, err)

	var seriesEvents []models.TaskEvent
	for _, event := range events {
		if event.SeriesID == "s1" {
			seriesEvents = append(seriesEvents, event)
		}
	}
	require.Len(t, seriesEvents, 1, "latest mode keeps a single log entry per series")
	assert.Equal(t, last.ID, seriesEvents[0].ID)
}

func TestSeriesAccumulateThroughEngine(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	var last models.TaskEvent
	for _, text := range []string{"a", "b", "c"} {
		last, err = e.PublishEvent(ctx, "t1", models.PublishEventInput{
			Type:       "llm.delta",
			Level:      models.LevelInfo,
			Data:       map[string]any{"text": text},
			SeriesID:   "s1",
			SeriesMode: models.SeriesAccumulate,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, "abc", last.Data.(map[string]any)["text"])
}

// failingLongTerm rejects every event save so the dropped-event hook fires.
type failingLongTerm struct{}

func (failingLongTerm) SaveTask(context.Context, models.Task) error { return nil }
func (failingLongTerm) GetTask(context.Context, string) (*models.Task, error) {
	return nil, nil
}
func (failingLongTerm) SaveEvent(context.Context, models.TaskEvent) error {
	return errors.New("archive unavailable")
}
func (failingLongTerm) GetEvents(context.Context, string, *models.EventQueryOptions) ([]models.TaskEvent, error) {
	return nil, nil
}

func TestLongTermSaveFailureInvokesEventDropped(t *testing.T) {
	var mu sync.Mutex
	dropped := make(map[string]string)
	e := New(Options{
		ShortTerm: store.NewMemoryStore(),
		Broadcast: broadcast.NewMemoryProvider(),
		LongTerm:  failingLongTerm{},
		Hooks: &Hooks{
			OnEventDropped: func(event models.TaskEvent, reason string) {
				mu.Lock()
				dropped[event.ID] = reason
				mu.Unlock()
			},
		},
	})
	ctx := context.Background()

	_, err := e.CreateTask(ctx, models.CreateTaskInput{ID: "t1"})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, "t1", models.StatusRunning, nil)
	require.NoError(t, err)

	event, err := e.PublishEvent(ctx, "t1", publishInput("progress", nil))
	require.NoError(t, err, "archive failure never surfaces to the publisher")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := dropped[event.ID]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "archive unavailable", dropped[event.ID])
}
