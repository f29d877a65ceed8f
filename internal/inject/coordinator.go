package inject

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

const (
	defaultVerifyDelay = 500 * time.Millisecond
	defaultOpTimeout   = 5 * time.Second
)

// ErrClosed is returned once the coordinator has stopped accepting events.
var ErrClosed = errors.New("inject: coordinator closed")

// Prober checks whether a live, visible panel exists in a tab. Failures must
// be reported as a zero result rather than an error.
type Prober interface {
	Probe(ctx context.Context, id types.TabID) types.PanelProbeResult
}

// Executor inserts exactly one panel into a tab, replacing any leftovers.
type Executor interface {
	Inject(ctx context.Context, id types.TabID) bool
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// VerifyDelay is how long after a successful injection the panel is
	// probed again.
	VerifyDelay time.Duration
	// OpTimeout bounds each probe and injection.
	OpTimeout time.Duration
	// AutoInject gates injection on Completed events. Nil means enabled.
	AutoInject func() bool
	// Restricted overrides IsRestrictedURL.
	Restricted func(url string) bool
	// OnTransition receives every state change. It must not block.
	OnTransition func(types.Transition)
}

type taskKind int

const (
	taskEvent taskKind = iota
	taskEvict
	taskVerify
)

type task struct {
	kind taskKind
	ev   types.Event
	gen  uint64
	done chan bool
}

// lane holds the pending work for one tab. At most one goroutine drains a
// lane at a time, which keeps a tab's events in delivery order.
type lane struct {
	queue []task
}

// Coordinator drives the per-tab injection state machine.
type Coordinator struct {
	registry *Registry
	prober   Prober
	executor Executor
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	idle      *sync.Cond
	lanes     map[types.TabID]*lane
	injecting map[types.TabID]int
	timers    map[*time.Timer]struct{}
	pending   int
	closed    bool
	wg        sync.WaitGroup

	// schedule runs f after d. Tests replace it to fire verifications by hand.
	schedule func(d time.Duration, f func()) *time.Timer
}

func NewCoordinator(registry *Registry, prober Prober, executor Executor, opts Options) *Coordinator {
	if opts.VerifyDelay <= 0 {
		opts.VerifyDelay = defaultVerifyDelay
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Restricted == nil {
		opts.Restricted = IsRestrictedURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		registry:  registry,
		prober:    prober,
		executor:  executor,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[types.TabID]*lane),
		injecting: make(map[types.TabID]int),
		timers:    make(map[*time.Timer]struct{}),
		schedule:  time.AfterFunc,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Dispatch queues a lifecycle event. Events for the same tab are handled in
// the order Dispatch is called; events for different tabs run independently.
func (c *Coordinator) Dispatch(ev types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if ev.Kind == types.EventReplaced {
		// Either id may still be referenced by work already queued for it.
		c.enqueueLocked(ev.TabID, task{kind: taskEvict, ev: ev})
		if ev.NewTabID != ev.TabID {
			c.enqueueLocked(ev.NewTabID, task{kind: taskEvict, ev: ev})
		}
		return nil
	}
	c.enqueueLocked(ev.TabID, task{kind: taskEvent, ev: ev})
	return nil
}

// ForceInject evicts any belief about the tab and performs a fresh injection
// attempt, returning whether the panel was inserted.
func (c *Coordinator) ForceInject(ctx context.Context, id types.TabID) (bool, error) {
	done := make(chan bool, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	c.enqueueLocked(id, task{kind: taskEvent, ev: types.ForceInject(id), done: done})
	c.mu.Unlock()

	select {
	case ok := <-done:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// State reports the coordinator's current view of a tab.
func (c *Coordinator) State(id types.TabID) types.TabState {
	c.mu.Lock()
	inFlight := c.injecting[id] > 0
	c.mu.Unlock()
	if inFlight {
		return types.StateInjecting
	}
	if c.registry.IsMarked(id) {
		return types.StateInjected
	}
	return types.StateUnknown
}

// Injected lists the tabs the registry believes carry a panel, sorted.
func (c *Coordinator) Injected() []types.TabID {
	return c.registry.Snapshot()
}

// WaitIdle blocks until every queued task has been handled. Verifications
// whose timer has not fired yet are not waited for.
func (c *Coordinator) WaitIdle() {
	c.mu.Lock()
	for c.pending > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close stops accepting events, cancels pending verifications and waits for
// queued work to drain. In-flight remote operations see a cancelled context.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) enqueueLocked(id types.TabID, t task) {
	c.pending++
	l, ok := c.lanes[id]
	if ok {
		l.queue = append(l.queue, t)
		return
	}
	l = &lane{queue: []task{t}}
	c.lanes[id] = l
	c.wg.Add(1)
	go c.drain(id, l)
}

func (c *Coordinator) drain(id types.TabID, l *lane) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(l.queue) == 0 {
			delete(c.lanes, id)
			c.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		c.mu.Unlock()

		c.run(id, t)

		c.mu.Lock()
		c.pending--
		if c.pending == 0 {
			c.idle.Broadcast()
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) run(id types.TabID, t task) {
	ok := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("inject task panicked", "tab_id", id, "panic", r)
		}
		if t.done != nil {
			t.done <- ok
		}
	}()

	switch t.kind {
	case taskEvict:
		c.evict(id, "replaced")
	case taskVerify:
		c.verify(id, t.gen)
	case taskEvent:
		ok = c.handle(id, t.ev)
	}
}

func (c *Coordinator) handle(id types.TabID, ev types.Event) bool {
	switch ev.Kind {
	case types.EventCompleted:
		if c.opts.Restricted(ev.URL) {
			slog.Debug("skipping restricted page", "tab_id", id, "url", ev.URL)
			c.publish(id, types.TransitionRestricted, ev.URL)
			return false
		}
		// A finished navigation means the previous document, and any panel in
		// it, is gone even though the tab id is the same.
		c.evict(id, "navigation")
		if c.opts.AutoInject != nil && !c.opts.AutoInject() {
			slog.Debug("auto inject disabled", "tab_id", id)
			return false
		}
		return c.attempt(id)
	case types.EventRemoved:
		c.evict(id, "removed")
		return true
	case types.EventForceInject:
		c.evict(id, "force")
		return c.attempt(id)
	default:
		slog.Warn("unknown tab event", "tab_id", id, "kind", ev.Kind.String())
		return false
	}
}

// attempt runs the injection procedure and reports whether the tab ends up
// with a panel.
func (c *Coordinator) attempt(id types.TabID) bool {
	if c.registry.IsMarked(id) {
		res := c.probe(id)
		if res.Present() {
			slog.Debug("panel already present", "tab_id", id)
			c.publish(id, types.TransitionSkipped, "")
			return true
		}
		c.evict(id, "stale")
	}

	c.setInjecting(id, 1)
	ok := c.inject(id)
	c.setInjecting(id, -1)

	if !ok {
		slog.Info("panel injection failed", "tab_id", id)
		c.publish(id, types.TransitionInjectFailed, "")
		return false
	}

	gen := c.registry.Mark(id)
	slog.Info("panel injected", "tab_id", id, "generation", gen)
	c.publish(id, types.TransitionInjected, "")
	c.scheduleVerify(id, gen)
	return true
}

func (c *Coordinator) scheduleVerify(id types.TabID, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	var timer *time.Timer
	timer = c.schedule(c.opts.VerifyDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, timer)
		if c.closed {
			return
		}
		c.enqueueLocked(id, task{kind: taskVerify, gen: gen})
	})
	if timer != nil {
		c.timers[timer] = struct{}{}
	}
}

func (c *Coordinator) verify(id types.TabID, gen uint64) {
	if cur, ok := c.registry.Generation(id); !ok || cur != gen {
		return
	}
	res := c.probe(id)
	if res.Present() {
		slog.Debug("panel verified", "tab_id", id)
		return
	}
	// Re-check after the probe: a later event may have replaced the belief.
	if c.registry.UnmarkIf(id, gen) {
		slog.Info("panel missing after injection, evicted", "tab_id", id, "exists", res.Exists, "visible", res.Visible)
		c.publish(id, types.TransitionVerifyEvicted, "")
	}
}

func (c *Coordinator) evict(id types.TabID, reason string) {
	if c.registry.Unmark(id) {
		slog.Debug("registry entry evicted", "tab_id", id, "reason", reason)
		c.publish(id, types.TransitionEvicted, reason)
	}
}

func (c *Coordinator) probe(id types.TabID) (res types.PanelProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panel probe panicked", "tab_id", id, "panic", r)
			res = types.PanelProbeResult{}
		}
	}()
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.OpTimeout)
	defer cancel()
	return c.prober.Probe(ctx, id)
}

func (c *Coordinator) inject(id types.TabID) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panel injection panicked", "tab_id", id, "panic", r)
			ok = false
		}
	}()
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.OpTimeout)
	defer cancel()
	return c.executor.Inject(ctx, id)
}

func (c *Coordinator) setInjecting(id types.TabID, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injecting[id] += delta
	if c.injecting[id] <= 0 {
		delete(c.injecting, id)
	}
}

func (c *Coordinator) publish(id types.TabID, kind, detail string) {
	if c.opts.OnTransition == nil {
		return
	}
	c.opts.OnTransition(types.Transition{TabID: id, Kind: kind, Detail: detail, At: time.Now()})
}
