package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fathoni/rudder/internal/observability"
	"github.com/fathoni/rudder/internal/tracing"
)

// Task represents one queued turn to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	activeIDs   map[string]bool
	mu          sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string // "enqueued" or "completed"
	Lane   string
	TaskID string
	Data   map[string]interface{}
}

// CommandQueue serializes agent turns per conversation. Each conversation
// maps to a lane with concurrency 1 so a user's turns never interleave,
// while separate conversations run in parallel.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex

	dedup *dedupCache
}

// New creates a new CommandQueue with the sweep lane preconfigured
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
		dedup:         newDedupCache(ctx, 5*time.Minute),
	}

	// Background maintenance work may overlap; conversation lanes may not.
	cq.initLane("sweep", 5)

	return cq
}

// ConversationLane returns the lane name for a conversation
func ConversationLane(conversationID string) string {
	return "conversation:" + conversationID
}

func (cq *CommandQueue) initLane(lane string, concurrency int) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if _, exists := cq.lanes[lane]; !exists {
		cq.lanes[lane] = &laneState{
			generation:  0,
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
			activeIDs:   make(map[string]bool),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

// Enqueue adds a task to the specified lane and blocks until it completes
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the specified lane and propagates context
// metadata into the task's execution.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	cq.ensureLane(lane)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: cq.lanes[lane].generation,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls := cq.lanes[lane]
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	cq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if opts.WarnAfterMs > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	result := <-record.result
	return result.value, result.err
}

// EnqueueDeduped enqueues a task unless the same turn key was already
// completed inside the dedup window, in which case the cached result is
// returned without running the task again.
func (cq *CommandQueue) EnqueueDeduped(ctx context.Context, lane, turnKey string, task Task, options *TaskOptions) (interface{}, error) {
	if turnKey == "" {
		return cq.EnqueueWithContext(ctx, lane, task, options)
	}
	if cached, ok := cq.dedup.Get(turnKey); ok {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("turnKey", turnKey).
			Msg("Duplicate turn, returning cached result")
		return cached.value, cached.err
	}
	value, err := cq.EnqueueWithContext(ctx, lane, task, options)
	// Only completed turns dedup; a failed turn must be retryable.
	if err == nil {
		cq.dedup.Set(turnKey, taskResult{value: value})
	}
	return value, err
}

func (cq *CommandQueue) ensureLane(lane string) {
	cq.mu.RLock()
	_, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		cq.initLane(lane, 1)
	}
}

// processLane processes queued tasks for a lane
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lanes[lane]
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Stale tasks carry a generation from before a reset
		if record.generation != ls.generation {
			record.result <- taskResult{
				err: fmt.Errorf("task cancelled due to reset"),
			}
			continue
		}

		ls.running++
		ls.activeIDs[record.id] = true

		logger := tracing.LoggerFromContext(record.ctx, log.Logger).With().Str("lane", lane).Logger()
		logger.Debug().
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()

	value, err := record.task(runCtx)

	duration := time.Since(startTime)

	ls := cq.lanes[lane]
	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	cq.emit(Event{
		Type:   "completed",
		Lane:   lane,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	go cq.processLane(lane)
}

// startWarnTimer warns when a task sits queued longer than expected
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lanes[lane]
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Int64("waitMs", waitMs).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-cq.ctx.Done():
		return
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ClearLane removes all queued tasks from a lane
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)

	for _, record := range ls.queue {
		record.result <- taskResult{
			err: fmt.Errorf("lane cleared"),
		}
		close(record.result)
	}

	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.SetQueueSize(lane, 0)

	return count
}

// ResetLane increments the generation counter for a lane and rejects its
// queued tasks. Used when a conversation is abandoned mid-flight.
func (cq *CommandQueue) ResetLane(lane string) {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++

	for _, record := range ls.queue {
		record.result <- taskResult{
			err: fmt.Errorf("lane reset"),
		}
		close(record.result)
	}

	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
}

// SetConcurrency updates the concurrency limit for a lane
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	cq.ensureLane(lane)

	ls := cq.lanes[lane]
	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	log.Info().
		Str("lane", lane).
		Int("oldMax", oldMax).
		Int("newMax", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > oldMax {
		go cq.processLane(lane)
	}
}

// WaitForActive waits for all active tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if allDrained {
			log.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close gracefully shuts down the command queue
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.dedup.Stop()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
