// Package scheduler implements the orchestration core: the Scheduler. It
// owns a single coarse monitor, drives every task transition, dispatches
// ready tasks onto the outbound queue, and consumes status updates from the
// inbound queue.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajgiridhar1995/kronos/internal/interpolate"
	"github.com/rajgiridhar1995/kronos/internal/provider"
	"github.com/rajgiridhar1995/kronos/internal/queue"
	"github.com/rajgiridhar1995/kronos/internal/resilience"
	"github.com/rajgiridhar1995/kronos/internal/resolver"
	"github.com/rajgiridhar1995/kronos/internal/store"
	"github.com/rajgiridhar1995/kronos/internal/task"
	"github.com/rajgiridhar1995/kronos/internal/timeoutmgr"
)

// Config carries the scheduler's tunables.
type Config struct {
	StatusQueueName    string
	PurgeInterval      time.Duration
	StatusPollInterval time.Duration

	// Clock lets tests control wall-clock arithmetic. Defaults to the real
	// clock when nil.
	Clock timeoutmgr.Clock
}

func (c Config) withDefaults() Config {
	if c.StatusQueueName == "" {
		c.StatusQueueName = "taskStatusQueue"
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = timeoutmgr.RealClock{}
	}
	return c
}

// statusMessage mirrors the inbound status-queue wire format.
type statusMessage struct {
	TaskID        task.ID                `json:"taskId"`
	Status        string                 `json:"status"`
	StatusMessage string                 `json:"statusMessage,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// Scheduler is the orchestration core. All exported methods that mutate
// task state acquire mu, the single coarse monitor guarding the whole
// task graph.
type Scheduler struct {
	mu sync.Mutex

	provider     *provider.TaskProvider
	resolver     *resolver.Resolver
	interpolator *interpolate.Interpolator
	timeouts     *timeoutmgr.TimeoutManager

	producer   queue.Producer
	consumer   queue.Consumer
	taskStore  store.TaskStore
	namespaces store.NamespaceService

	breaker  *resilience.CircuitBreaker
	pollGate *resilience.PollGate

	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	transitions     metric.Int64Counter
	cascades        metric.Int64Counter
	scheduleLatency metric.Float64Histogram

	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopping atomic.Bool
}

// New constructs a Scheduler. meter and logger may be nil, in which case a
// no-op meter and slog.Default() are used.
func New(cfg Config, taskStore store.TaskStore, namespaces store.NamespaceService, producer queue.Producer, consumer queue.Consumer, meter metric.Meter, logger *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("kronos-scheduler")
	}

	s := &Scheduler{
		provider:     provider.New(meter),
		resolver:     resolver.New(),
		interpolator: interpolate.New(logger),
		producer:     producer,
		consumer:     consumer,
		taskStore:    taskStore,
		namespaces:   namespaces,
		breaker:      resilience.NewCircuitBreakerAdaptive(time.Minute, 6, 5, 0.5, 30*time.Second, 3),
		pollGate:     resilience.NewPollGate(20, 20, meter),
		cfg:          cfg,
		logger:       logger,
		tracer:       otel.Tracer("kronos-scheduler"),
		stopCh:       make(chan struct{}),
	}
	s.transitions, _ = meter.Int64Counter("kronos_task_transitions_total")
	s.cascades, _ = meter.Int64Counter("kronos_task_cascade_failures_total")
	s.scheduleLatency, _ = meter.Float64Histogram("kronos_schedule_ready_latency_ms")
	s.timeouts = timeoutmgr.New(cfg.Clock, s.onTimeout, meter)
	return s
}

func (s *Scheduler) nowMs() int64 {
	return s.cfg.Clock.Now()
}

// onTimeout is the TimeoutManager's firing effect: a single call into
// updateStatus. It runs on its own goroutine so a deadline that has already
// elapsed at Arm time (synchronous dispatch) never re-enters the scheduler
// monitor the calling code may already hold. The stopping check closes a
// shutdown edge: a timer that fired fractionally before Stop's CancelAll
// must not Add to the WaitGroup Stop is about to drain. Checked via an
// atomic rather than mu, since recovery fires elapsed deadlines while
// already holding the monitor.
func (s *Scheduler) onTimeout(id task.ID) {
	if s.stopping.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.UpdateStatus(context.Background(), id, task.StatusFailed, task.MessageTimedOut, nil)
	}()
}

// Submit is the external entry point: add, resolve, transition to WAITING
// or FAILED, then attempt to schedule ready tasks. Duplicate submissions
// are a silent no-op.
func (s *Scheduler) Submit(ctx context.Context, t *task.Task) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.submit", trace.WithAttributes(attribute.String("task", t.ID.String())))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = task.StatusCreated
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = s.nowMs()
	}
	if !s.provider.Add(t) {
		return nil
	}
	s.resolveAndTransitionLocked(ctx, t)
	s.scheduleReadyLocked(ctx)
	return nil
}

func (s *Scheduler) resolveAndTransitionLocked(ctx context.Context, t *task.Task) {
	upstream, ok := s.resolver.Resolve(t, s.provider)
	if !ok {
		t.CompletedAt = s.nowMs()
		s.transitionLocked(ctx, t, task.StatusFailed, task.MessageFailedToResolveDep)
		s.cascadeFailureLocked(ctx, t)
		return
	}
	s.provider.WireDependencies(t, upstream)
	s.transitionLocked(ctx, t, task.StatusWaiting, "")
}

// scheduleReadyLocked dispatches every currently-ready WAITING task:
// interpolated and sent, in createdAt-ascending / id-tuple-tie-break order
// (already guaranteed by TaskProvider.GetReadyTasks).
func (s *Scheduler) scheduleReadyLocked(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "scheduler.schedule_ready")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.scheduleLatency != nil {
			s.scheduleLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	for _, t := range s.provider.GetReadyTasks() {
		s.interpolator.Interpolate(t)

		payload, err := json.Marshal(t)
		if err != nil {
			s.failSubmissionLocked(ctx, t, err)
			continue
		}

		if s.breaker != nil && !s.breaker.Allow() {
			s.failSubmissionLocked(ctx, t, errors.New("circuit breaker open"))
			continue
		}

		sendErr := s.producer.Send(ctx, t.Type, payload)
		if s.breaker != nil {
			s.breaker.RecordResult(sendErr == nil)
		}
		if sendErr != nil {
			s.failSubmissionLocked(ctx, t, sendErr)
			continue
		}

		s.transitionLocked(ctx, t, task.StatusScheduled, "")
	}
}

func (s *Scheduler) failSubmissionLocked(ctx context.Context, t *task.Task, err error) {
	s.logger.Error("task submission failed", "id", t.ID.String(), "error", err)
	t.CompletedAt = s.nowMs()
	s.transitionLocked(ctx, t, task.StatusFailed, task.MessageSubmissionFailed)
	s.cascadeFailureLocked(ctx, t)
}

// UpdateStatus applies a status update per the transition table, called
// both by the inbound status-queue poller and (for timeouts) internally. A
// status update for an unknown or already-terminal task is tolerated and
// ignored.
func (s *Scheduler) UpdateStatus(ctx context.Context, id task.ID, newStatus task.Status, message string, taskCtx map[string]interface{}) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.update_status", trace.WithAttributes(
		attribute.String("task", id.String()),
		attribute.String("status", string(newStatus)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.provider.GetTask(id)
	if !ok {
		s.logger.Error("status update for unknown task", "id", id.String(), "status", newStatus)
		return nil
	}
	if t.Status.Terminal() {
		// Best-effort timer cancellation races, duplicate worker callbacks:
		// both must be tolerated as no-ops against a terminal task.
		return nil
	}

	switch newStatus {
	case task.StatusSubmitted:
		t.SubmittedAt = s.nowMs()
		s.transitionLocked(ctx, t, task.StatusSubmitted, "")
		s.timeouts.Arm(t)
	case task.StatusRunning:
		s.transitionLocked(ctx, t, task.StatusRunning, "")
	case task.StatusSuccessful:
		s.timeouts.Cancel(t.ID)
		if taskCtx != nil {
			t.Context = taskCtx
		}
		t.CompletedAt = s.nowMs()
		s.transitionLocked(ctx, t, task.StatusSuccessful, "")
		s.scheduleReadyLocked(ctx)
	case task.StatusFailed:
		s.timeouts.Cancel(t.ID)
		t.CompletedAt = s.nowMs()
		s.transitionLocked(ctx, t, task.StatusFailed, message)
		s.cascadeFailureLocked(ctx, t)
	default:
		s.logger.Error("unsupported status update", "id", id.String(), "status", newStatus)
	}
	return nil
}

// cascadeFailureLocked fails every task transitively reachable from t in
// the reverse-dependency graph, with the reserved message
// FAILED_TO_RESOLVE_DEPENDENCY. Terminal dependents are left alone (already
// resolved one way or another).
func (s *Scheduler) cascadeFailureLocked(ctx context.Context, t *task.Task) {
	pending := []*task.Task{t}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]
		for _, dep := range s.provider.GetDependentTasks(cur) {
			if dep.Status.Terminal() {
				continue
			}
			s.timeouts.Cancel(dep.ID)
			dep.CompletedAt = s.nowMs()
			s.transitionLocked(ctx, dep, task.StatusFailed, task.MessageFailedToResolveDep)
			if s.cascades != nil {
				s.cascades.Add(ctx, 1)
			}
			pending = append(pending, dep)
		}
	}
}

func (s *Scheduler) transitionLocked(ctx context.Context, t *task.Task, newStatus task.Status, message string) {
	from := t.Status
	t.StatusMessage = message
	s.provider.SetStatus(t, newStatus)

	if s.transitions != nil {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(newStatus)),
		))
	}
	s.logger.Info("task transitioned", "id", t.ID.String(), "from", from, "to", newStatus, "message", message)

	if s.taskStore != nil {
		if err := s.taskStore.UpdateStatus(ctx, t, newStatus, message, t.Context, t.CompletedAt); err != nil {
			s.logger.Error("store write failed", "id", t.ID.String(), "error", err)
		}
	}
}

// DeleteStaleTasks delegates to the provider's job-atomic eviction policy,
// using the configured purge interval as the staleness threshold.
func (s *Scheduler) DeleteStaleTasks(ctx context.Context) []task.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := s.provider.RemoveStaleTasks(ctx, s.nowMs(), s.cfg.PurgeInterval.Milliseconds())
	ids := make([]task.ID, 0, len(evicted))
	for _, t := range evicted {
		ids = append(ids, t.ID)
	}
	if len(ids) > 0 {
		s.logger.Info("evicted stale tasks", "count", len(ids))
	}
	return ids
}

// Stats returns a lightweight snapshot for introspection: total task count,
// a per-status breakdown, the number of currently armed timeout timers, and
// the outbound circuit breaker's state.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[string]int, len(task.AllStatuses()))
	for _, st := range task.AllStatuses() {
		byStatus[string(st)] = len(s.provider.GetTasks(st))
	}
	stats := map[string]interface{}{
		"total_tasks":  s.provider.Size(),
		"by_status":    byStatus,
		"armed_timers": s.timeouts.Count(),
	}
	if s.breaker != nil {
		stats["circuit_breaker_state"] = s.breaker.State()
	}
	return stats
}

// Start performs the startup recovery sequence — load every non-terminal
// task per namespace from the store, sort by createdAt, re-add, re-resolve,
// re-arm timers for already-SUBMITTED/RUNNING tasks — then launches the
// status-poll and purge-interval loops.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.pollLoop(ctx)
	go s.purgeLoop(ctx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) recover(ctx context.Context) error {
	if s.namespaces == nil || s.taskStore == nil {
		return nil
	}
	namespaces, err := s.namespaces.List(ctx)
	if err != nil {
		return err
	}

	all := make([]*task.Task, 0)
	for _, ns := range namespaces {
		tasks, err := s.taskStore.GetByStatus(ctx, ns.Name, task.ActiveStatuses())
		if err != nil {
			s.logger.Error("recovery: load active tasks failed", "namespace", ns.Name, "error", err)
			continue
		}
		all = append(all, tasks...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].ID.Less(all[j].ID)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range all {
		if !s.provider.Add(t) {
			continue
		}
		upstream, ok := s.resolver.Resolve(t, s.provider)
		if !ok {
			t.CompletedAt = s.nowMs()
			s.transitionLocked(ctx, t, task.StatusFailed, task.MessageFailedToResolveDep)
			s.cascadeFailureLocked(ctx, t)
			continue
		}
		s.provider.WireDependencies(t, upstream)
		if t.Status == task.StatusSubmitted || t.Status == task.StatusRunning {
			s.timeouts.Arm(t)
		}
	}
	s.scheduleReadyLocked(ctx)
	s.logger.Info("recovery complete", "tasks", len(all))
	return nil
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	if s.pollGate != nil && !s.pollGate.Allow() {
		return
	}
	if s.consumer == nil {
		return
	}
	msgs, err := s.consumer.Poll(ctx, s.cfg.StatusQueueName)
	if err != nil {
		s.logger.Error("status queue poll failed", "error", err)
		return
	}
	for _, raw := range msgs {
		var wire statusMessage
		if err := json.Unmarshal(raw, &wire); err != nil {
			s.logger.Error("malformed status message", "error", err, "payload", string(raw))
			continue
		}
		if err := s.UpdateStatus(ctx, wire.TaskID, task.Status(wire.Status), wire.StatusMessage, wire.Context); err != nil {
			s.logger.Error("apply status update failed", "error", err)
		}
	}
}

func (s *Scheduler) purgeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DeleteStaleTasks(ctx)
		}
	}
}

// Stop cancels all armed timers, stops the poll/purge loops, drains the
// pool with a 10-second grace, then closes the outbound producer and
// inbound consumer.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.stopping.Store(true)
	close(s.stopCh)
	s.timeouts.CancelAll()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-grace.Done():
		s.logger.Warn("shutdown grace period exceeded")
	}

	var firstErr error
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			firstErr = err
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("scheduler stopped")
	return firstErr
}
