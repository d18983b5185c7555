package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/forecasthub/forecasthub/server/internal/metrics"
	"github.com/forecasthub/forecasthub/server/internal/registry"
	"github.com/forecasthub/forecasthub/server/internal/snapshot"
)

const (
	// DefaultInterval is the broadcast cadence when none is configured.
	DefaultInterval = 5 * time.Second

	// DefaultSendTimeout bounds a single send to a single connection.
	DefaultSendTimeout = 10 * time.Second
)

// RunState is the scheduler lifecycle state.
type RunState int32

const (
	Stopped RunState = iota
	Running
	Stopping
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	// Interval is the broadcast cadence. Zero means DefaultInterval; a
	// negative value makes Start fail.
	Interval time.Duration

	// SendTimeout bounds each send. It also bounds how long a tick waits for
	// its sends before the next tick may run.
	SendTimeout time.Duration

	Clock   clockwork.Clock
	Metrics *metrics.Hub
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	State       RunState
	Interval    time.Duration
	Connections int
	Ticks       uint64
	LastTick    time.Time
}

type resetReq struct {
	interval time.Duration
	done     chan struct{}
}

// Scheduler drives periodic broadcasts to the connections in its registry.
type Scheduler struct {
	gen         Generator
	cache       *snapshot.Cache
	reg         *registry.Registry[Connection]
	clock       clockwork.Clock
	met         *metrics.Hub
	sendTimeout time.Duration

	lifeMu   sync.Mutex // serializes Start, Stop and SetInterval
	state    atomic.Int32
	interval atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}
	resetCh  chan resetReq

	busy     atomic.Bool // a tick's fan-out is in progress
	inflight tracker
	seq      atomic.Uint64
	ticks    atomic.Uint64
	lastTick atomic.Int64
}

// New creates a stopped Scheduler broadcasting data from gen. cache may be
// shared with other readers of the latest payload; nil allocates a new one.
func New(gen Generator, cache *snapshot.Cache, opts Options) *Scheduler {
	if cache == nil {
		cache = &snapshot.Cache{}
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	s := &Scheduler{
		gen:         gen,
		cache:       cache,
		clock:       opts.Clock,
		met:         opts.Metrics,
		sendTimeout: opts.SendTimeout,
		resetCh:     make(chan resetReq),
	}
	s.reg = registry.New[Connection](func(n int) { s.met.Connections.Set(float64(n)) })
	s.interval.Store(int64(opts.Interval))
	return s
}

// Start begins broadcasting. The first tick fires immediately. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() == Running {
		return nil
	}
	d := s.Interval()
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := s.clock.NewTicker(d)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state.Store(int32(Running))

	slog.Info("hub: scheduler started", "interval", d, "send_timeout", s.sendTimeout)
	go s.run(ctx, ticker, s.done)
	return nil
}

// Stop cancels future ticks. Sends already issued are left to finish or fail
// on their own. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() != Running {
		return
	}
	s.state.Store(int32(Stopping))
	s.cancel()
	<-s.done
	s.state.Store(int32(Stopped))
	slog.Info("hub: scheduler stopped", "ticks", s.ticks.Load())
}

// Shutdown stops the scheduler and force-closes every registered connection,
// leaving the registry empty. Close errors are logged and otherwise ignored.
func (s *Scheduler) Shutdown() {
	s.Stop()
	conns := s.reg.Clear()
	for _, c := range conns {
		forceClose(c)
	}
	slog.Info("hub: shutdown complete", "closed", len(conns))
}

// Drain waits until every send issued so far has completed, or ctx is done.
func (s *Scheduler) Drain(ctx context.Context) error {
	select {
	case <-s.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInterval changes the broadcast cadence. A running scheduler applies it
// before SetInterval returns; the next tick fires one new interval from now.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, d)
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.Interval() == d {
		return nil
	}
	s.interval.Store(int64(d))
	if s.State() != Running {
		return nil
	}
	req := resetReq{interval: d, done: make(chan struct{})}
	select {
	case s.resetCh <- req:
		<-req.done
	case <-s.done:
	}
	slog.Info("hub: broadcast interval changed", "interval", d)
	return nil
}

// Register adds c to the registry and pushes the current payload to it in the
// background. The caller must release the returned handle when c terminates.
func (s *Scheduler) Register(c Connection) *registry.Handle[Connection] {
	m := &member{Connection: c}
	h := s.reg.Add(m)
	slog.Debug("hub: connection registered", "conn", c.ID(), "connections", s.reg.Len())

	s.inflight.add()
	go func() {
		defer s.inflight.done()
		if err := s.PushOnce(context.Background(), m); err != nil {
			slog.Warn("hub: initial push failed", "conn", c.ID(), "err", err)
		}
	}()
	return h
}

// PushOnce sends the cached payload to c, generating one first if nothing has
// been broadcast yet. If c is registered and a tick already delivered a newer
// payload to it, the push is dropped.
func (s *Scheduler) PushOnce(ctx context.Context, c Connection) error {
	gctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	p, err := s.cache.LoadOrGenerate(gctx, s.generate)
	if err != nil {
		return err
	}
	if st := connState(c); st != ConnOpen {
		return fmt.Errorf("hub: push to %s (%s): %w", c.ID(), st, ErrConnectionClosed)
	}
	return s.send(s.memberOf(c), p)
}

// State returns the lifecycle state.
func (s *Scheduler) State() RunState {
	return RunState(s.state.Load())
}

// Interval returns the configured broadcast cadence.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Count returns the number of registered connections.
func (s *Scheduler) Count() int {
	return s.reg.Len()
}

// Connections returns the registered connections. The slice must not be
// modified.
func (s *Scheduler) Connections() []Connection {
	members := s.reg.Snapshot()
	out := make([]Connection, len(members))
	for i, m := range members {
		out[i] = m.(*member).Connection
	}
	return out
}

// Cache returns the payload cache the scheduler publishes to.
func (s *Scheduler) Cache() *snapshot.Cache {
	return s.cache
}

// Stats returns counters for health reporting.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		State:       s.State(),
		Interval:    s.Interval(),
		Connections: s.Count(),
		Ticks:       s.ticks.Load(),
	}
	if ns := s.lastTick.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}

// --- internal ---------------------------------------------------------------

func (s *Scheduler) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.resetCh:
			ticker.Reset(req.interval)
			close(req.done)
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		}
	}
}

// tick generates and serializes one payload and fans it out to a snapshot of
// the registry. It returns once every send is issued; a background goroutine
// clears the busy flag when they finish or the send timeout elapses.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.met.TicksSkipped.WithLabelValues(metrics.SkipBusy).Inc()
		slog.Warn("hub: previous broadcast still in flight, skipping tick")
		return
	}

	start := s.clock.Now()
	p, err := s.generate(ctx)
	if err != nil {
		s.busy.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.met.TicksSkipped.WithLabelValues(metrics.SkipFeedError).Inc()
		slog.Error("hub: skipping tick", "err", err)
		return
	}
	s.cache.Store(p)
	s.ticks.Add(1)
	s.lastTick.Store(start.UnixNano())
	s.met.Ticks.Inc()

	var wg sync.WaitGroup
	for _, c := range s.reg.Snapshot() {
		if st := connState(c); st != ConnOpen {
			if s.reg.Remove(c) {
				s.met.Evictions.Inc()
				slog.Debug("hub: evicted connection", "conn", c.ID(), "state", st)
			}
			continue
		}
		wg.Add(1)
		s.inflight.add()
		go func(m *member) {
			defer s.inflight.done()
			defer wg.Done()
			if err := s.send(m, p); err != nil {
				slog.Warn("hub: send failed", "conn", m.ID(), "seq", p.Seq, "err", err)
			}
		}(c.(*member))
	}

	go s.settle(&wg, start, p.Seq)
}

// settle clears the busy flag once the tick's sends are done, or after the
// send timeout if some transport ignores its deadline.
func (s *Scheduler) settle(wg *sync.WaitGroup, start time.Time, seq uint64) {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	t := s.clock.NewTimer(s.sendTimeout)
	defer t.Stop()
	select {
	case <-finished:
	case <-t.Chan():
		slog.Warn("hub: sends still pending after timeout, releasing tick", "seq", seq)
	}
	s.met.ObserveTick(s.clock.Since(start))
	s.busy.Store(false)
}

func (s *Scheduler) generate(ctx context.Context) (p *snapshot.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: panic: %v", ErrFeedFailed, r)
		}
	}()

	data, err := s.gen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFailed, err)
	}
	p, err = snapshot.Encode(s.seq.Add(1), s.clock.Now(), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFailed, err)
	}
	return p, nil
}

// send hands p to m unless m has already been given a newer payload. Sends
// to one member are serialized, so payloads reach it in sequence order.
func (s *Scheduler) send(m *member, p *snapshot.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Seq <= m.last {
		slog.Debug("hub: newer payload already sent, dropping", "conn", m.ID(), "seq", p.Seq, "last", m.last)
		return nil
	}
	m.last = p.Seq
	return s.deliver(m.Connection, p)
}

// deliver writes p to c within the send timeout. A panic in the transport is
// reported as a send failure.
func (s *Scheduler) deliver(c Connection, p *snapshot.Payload) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrSendFailed, c.ID(), r)
		}
		s.met.ObserveSend(err)
	}()

	if err := c.Send(ctx, p.Data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, c.ID(), err)
	}
	return nil
}

// member is a registered connection and the sequence number of the newest
// payload handed to it.
type member struct {
	Connection

	mu   sync.Mutex
	last uint64
}

// memberOf returns the registry's member for c. A connection that is not
// registered gets a fresh member with no delivery history.
func (s *Scheduler) memberOf(c Connection) *member {
	if m, ok := c.(*member); ok {
		return m
	}
	if r, ok := s.reg.Get(c.ID()); ok {
		if m := r.(*member); m.Connection == c {
			return m
		}
	}
	return &member{Connection: c}
}

func connState(c Connection) (st ConnState) {
	defer func() {
		if recover() != nil {
			st = ConnErrored
		}
	}()
	return c.State()
}

func forceClose(c Connection) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("hub: force close panicked", "conn", c.ID(), "panic", r)
		}
	}()
	if err := c.ForceClose(); err != nil {
		slog.Debug("hub: force close failed", "conn", c.ID(), "err", err)
	}
}

// tracker counts in-flight work. Unlike sync.WaitGroup, waiting may start
// while work is still being added.
type tracker struct {
	mu    sync.Mutex
	n     int
	ready chan struct{}
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.ready = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.ready)
	}
	t.mu.Unlock()
}

var closedCh = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (t *tracker) idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return closedCh
	}
	return t.ready
}
