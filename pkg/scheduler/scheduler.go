package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/telemetry"
)

// Event is published as nodes change state, mirroring
// pkg/engine/scheduler.go's Event shape generalized from plan units to
// task graph nodes.
type Event struct {
	Key       MemoKey
	Status    Status
	Message   string
	Timestamp time.Time
}

// EventPublisher receives scheduler events. Implementations must not block
// the scheduler for long; Publish is called synchronously per event.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}

// Scheduler runs a set of nodes to completion with bounded concurrency.
type Scheduler struct {
	concurrency int
	logger      *telemetry.Logger
	publisher   EventPublisher
	tracer      *telemetry.Tracer
	metrics     *telemetry.Metrics

	mu       sync.Mutex
	memo     map[MemoKey]*Result
	status   map[MemoKey]Status
	nodes    map[MemoKey]*Node
	deps     map[MemoKey][]MemoKey    // deps[k] = what k waits on
	blocks   map[MemoKey][]MemoKey    // blocks[k] = what waits on k
	pending  map[MemoKey]int          // remaining unresolved deps
	results  map[MemoKey]*Result
	failedBy map[MemoKey]MemoKey // first failed ancestor, for skip reasons
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a telemetry logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPublisher attaches an event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithTracer attaches an OpenTelemetry tracer: Run opens one span for the
// whole run and execute opens one child span per dispatched node. A nil
// tracer (the default) disables spans entirely rather than emitting no-op
// ones, since telemetry.Tracer's own methods assume a non-nil receiver.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithMetrics attaches a Prometheus metrics collector. The default is a
// disabled collector whose Record/Set methods are no-ops.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithMemo seeds the scheduler with already-known results, letting a
// caller carry memoization across runs (spec §4.9's cross-run memo cache).
func WithMemo(seed map[MemoKey]*Result) Option {
	return func(s *Scheduler) {
		for k, v := range seed {
			s.memo[k] = v
		}
	}
}

// New creates a Scheduler bounded to run at most concurrency nodes at once.
func New(concurrency int, opts ...Option) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{
		concurrency: concurrency,
		logger:      telemetry.NopLogger(),
		publisher:   noopPublisher{},
		metrics:     &telemetry.Metrics{},
		memo:        map[MemoKey]*Result{},
		status:      map[MemoKey]Status{},
		nodes:       map[MemoKey]*Node{},
		deps:        map[MemoKey][]MemoKey{},
		blocks:      map[MemoKey][]MemoKey{},
		pending:     map[MemoKey]int{},
		results:     map[MemoKey]*Result{},
		failedBy:    map[MemoKey]MemoKey{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes every node in nodes to a terminal status and returns their
// results keyed by MemoKey. Run blocks until every node is terminal or ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context, nodes []*Node) (map[MemoKey]*Result, error) {
	runStart := timeNow()
	s.metrics.RecordRunStarted("")
	if s.tracer != nil {
		ctx, _ = s.tracer.StartRunSpan(ctx, runID(ctx))
	}

	result, err := s.run(ctx, nodes)

	status := "succeeded"
	if err != nil {
		status = "failed"
	} else {
		for _, r := range result {
			if r.Status == Failed || r.Status == Cancelled {
				status = "failed"
				break
			}
		}
	}
	s.metrics.RecordRunCompleted(status, timeNow().Sub(runStart))
	if s.tracer != nil {
		if span := telemetry.SpanFromContext(ctx); span != nil {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}
	}
	return result, err
}

// runID extracts the run identifier the caller stashed on ctx for tracing,
// falling back to "" so StartRunSpan still works for callers that don't
// bother threading one through.
func runID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// runIDKey is the context key a caller uses to attach a run ID for tracing.
type runIDKey struct{}

// WithRunID attaches a run ID to ctx so Run's span carries it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func (s *Scheduler) run(ctx context.Context, nodes []*Node) (map[MemoKey]*Result, error) {
	if err := s.build(nodes); err != nil {
		return nil, err
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	ready := make(chan MemoKey, len(nodes))
	done := make(chan MemoKey, len(nodes))

	s.mu.Lock()
	initial := s.readyLocked()
	s.mu.Unlock()
	for _, k := range initial {
		ready <- k
	}

	remaining := len(nodes)
	if remaining == 0 {
		return map[MemoKey]*Result{}, nil
	}
	s.metrics.SetQueuedNodes(float64(remaining))

	for remaining > 0 {
		select {
		case <-ctx.Done():
			s.cancelRemaining(ctx)
			wg.Wait()
			return s.snapshot(), gardenerr.New(gardenerr.KindCancelled, "task graph run cancelled").WithCode(gardenerr.CodeTimeout)
		case key := <-ready:
			sem <- struct{}{}
			wg.Add(1)
			go func(k MemoKey) {
				defer wg.Done()
				defer func() { <-sem }()
				s.execute(ctx, k, done)
			}(key)
		case key := <-done:
			remaining--
			s.metrics.SetQueuedNodes(float64(remaining))
			next := s.onNodeDone(key)
			for _, n := range next {
				ready <- n
			}
		}
	}

	wg.Wait()
	return s.snapshot(), nil
}

func (s *Scheduler) build(nodes []*Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		if _, dup := s.nodes[n.Key]; dup {
			return gardenerr.New(gardenerr.KindInternal, "duplicate task graph node").WithEntity(n.Key.Name)
		}
		s.nodes[n.Key] = n
		s.status[n.Key] = Pending
		s.deps[n.Key] = append([]MemoKey{}, n.Dependencies...)
		s.pending[n.Key] = len(n.Dependencies)
	}
	for _, n := range nodes {
		for _, d := range n.Dependencies {
			if _, ok := s.nodes[d]; !ok {
				return gardenerr.New(gardenerr.KindDependency, "task graph node depends on an unknown node").
					WithCode(gardenerr.CodeMissingDependency).
					WithEntity(n.Key.Name).WithDetail("dependency", d.Name)
			}
			s.blocks[d] = append(s.blocks[d], n.Key)
		}
	}
	return s.detectCycleLocked()
}

// detectCycleLocked walks the dependency edges with a recursion stack, the
// same way pkg/engine/dag.go's detectCyclesUtil walks plan unit edges.
func (s *Scheduler) detectCycleLocked() error {
	visited := map[MemoKey]bool{}
	stack := map[MemoKey]bool{}

	var visit func(k MemoKey, path []MemoKey) error
	visit = func(k MemoKey, path []MemoKey) error {
		visited[k] = true
		stack[k] = true
		path = append(path, k)
		for _, d := range s.deps[k] {
			if !visited[d] {
				if err := visit(d, path); err != nil {
					return err
				}
			} else if stack[d] {
				return gardenerr.New(gardenerr.KindDependency, "circular task graph dependency").
					WithCode(gardenerr.CodeCircularDeps).WithEntity(d.Name)
			}
		}
		stack[k] = false
		return nil
	}

	for k := range s.nodes {
		if !visited[k] {
			if err := visit(k, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// readyLocked returns every node with zero remaining dependencies, sorted
// by (type-priority, name) for deterministic dispatch order.
func (s *Scheduler) readyLocked() []MemoKey {
	var keys []MemoKey
	for k, remaining := range s.pending {
		if remaining == 0 && s.status[k] == Pending {
			s.status[k] = Ready
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type.priority() != keys[j].Type.priority() {
			return keys[i].Type.priority() < keys[j].Type.priority()
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

func (s *Scheduler) execute(ctx context.Context, key MemoKey, done chan<- MemoKey) {
	node := s.nodes[key]
	log := s.logger.WithField("node", key.Name).WithField("type", key.Type.String())

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartNodeSpan(ctx, key.Name, key.Type.String(), "execute")
	}
	nodeStart := timeNow()
	endSpan := func(result *Result) {
		if span == nil {
			return
		}
		if result.Err != nil {
			telemetry.RecordError(span, result.Err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
	recordMetric := func(result *Result) {
		s.metrics.RecordNodeExecution("execute", result.Status.String(), timeNow().Sub(nodeStart), key.Type.String())
	}

	s.setStatus(key, InProgress)
	s.publisher.Publish(ctx, Event{Key: key, Status: InProgress, Timestamp: timeNow()})

	if !node.Force {
		if cached, ok := s.lookupMemo(key); ok {
			log.Debug("reusing memoized result")
			cached.Memoized = true
			s.storeResult(key, cached)
			s.publisher.Publish(ctx, Event{Key: key, Status: cached.Status, Message: "memoized", Timestamp: timeNow()})
			recordMetric(cached)
			endSpan(cached)
			done <- key
			return
		}
	}

	if ancestor, skipped := s.checkFailedAncestor(key); skipped {
		result := &Result{
			Key:       key,
			Status:    Skipped,
			Err:       gardenerr.New(gardenerr.KindDependency, fmt.Sprintf("skipped: dependency %q failed", ancestor.Name)).WithCode(gardenerr.CodeDependencyFailed),
			StartedAt: timeNow(),
			EndedAt:   timeNow(),
		}
		s.storeResult(key, result)
		s.publisher.Publish(ctx, Event{Key: key, Status: Skipped, Message: result.Err.Error(), Timestamp: timeNow()})
		recordMetric(result)
		endSpan(result)
		done <- key
		return
	}

	result := s.runWithRetry(ctx, node)
	s.storeResult(key, result)
	if result.Status == Failed {
		log.WithError(result.Err).Error("node failed")
	}
	s.publisher.Publish(ctx, Event{Key: key, Status: result.Status, Timestamp: timeNow()})
	recordMetric(result)
	endSpan(result)
	done <- key
}

func (s *Scheduler) runWithRetry(ctx context.Context, node *Node) *Result {
	start := timeNow()
	var outputs map[string]interface{}
	var err error

	for attempt := 0; attempt <= node.MaxRetries; attempt++ {
		runCtx := ctx
		var cancel context.CancelFunc
		if node.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		}
		outputs, err = node.Run(runCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}
		if runCtx.Err() == context.DeadlineExceeded {
			err = gardenerr.New(gardenerr.KindRuntime, "task graph node timed out").
				WithCode(gardenerr.CodeTimeout).WithEntity(node.Key.Name)
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < node.MaxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if backoff > time.Minute {
				backoff = time.Minute
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = node.MaxRetries
			}
		}
	}

	status := Complete
	if err != nil {
		status = Failed
		if ctx.Err() != nil {
			status = Cancelled
		}
	}
	return &Result{
		Key:       node.Key,
		Status:    status,
		Outputs:   outputs,
		Err:       err,
		StartedAt: start,
		EndedAt:   timeNow(),
	}
}

// onNodeDone updates dependent pending counts and returns newly-ready keys.
func (s *Scheduler) onNodeDone(key MemoKey) []MemoKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.results[key] != nil && (s.results[key].Status == Failed || s.results[key].Status == Cancelled) {
		s.propagateFailureLocked(key, key)
	}

	for _, dependent := range s.blocks[key] {
		if s.status[dependent] == Pending || s.status[dependent] == Ready {
			s.pending[dependent]--
		}
	}
	return s.readyLocked()
}

// propagateFailureLocked marks every transitive dependent of failed as
// doomed to skip once it becomes ready, recording the originating
// ancestor for the skip reason (spec §4.9's failure propagation).
func (s *Scheduler) propagateFailureLocked(failed, origin MemoKey) {
	for _, dependent := range s.blocks[failed] {
		if _, already := s.failedBy[dependent]; !already {
			s.failedBy[dependent] = origin
		}
		s.propagateFailureLocked(dependent, origin)
	}
}

func (s *Scheduler) checkFailedAncestor(key MemoKey) (MemoKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ancestor, skipped := s.failedBy[key]
	return ancestor, skipped
}

func (s *Scheduler) lookupMemo(key MemoKey) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.memo[key]
	return r, ok
}

func (s *Scheduler) storeResult(key MemoKey, r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = r
	s.memo[key] = r
	s.status[key] = r.Status
}

func (s *Scheduler) setStatus(key MemoKey, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = st
}

func (s *Scheduler) cancelRemaining(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, st := range s.status {
		if !st.IsTerminal() {
			s.status[k] = Cancelled
			s.results[k] = &Result{Key: k, Status: Cancelled, Err: ctx.Err(), StartedAt: timeNow(), EndedAt: timeNow()}
		}
	}
}

func (s *Scheduler) snapshot() map[MemoKey]*Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[MemoKey]*Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// timeNow is a seam so tests can stub the clock; production always uses
// the wall clock.
var timeNow = time.Now
