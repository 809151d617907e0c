// Package syncmgr owns the sync lifecycle: when cycles run, who may
// run one at a time, and who gets told about the outcome.
//
// Triggers come from three places: a periodic ticker, an offline ->
// online transition from the connectivity monitor, and explicit Sync
// calls from the CLI or dashboard. Automatic triggers are debounced by
// a minimum gap so a reconnect racing the ticker produces one cycle,
// not two back to back. All triggers funnel through a single-flight
// guard; a cycle that arrives while another is running is reported as
// skipped inside its result rather than queued up.
package syncmgr

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/engine"
)

// ErrSyncInProgress is the message reported inside a Result when a
// cycle was skipped because another was already running.
const ErrSyncInProgress = "sync already in progress"

// Listener is notified with the result of every completed or skipped
// cycle.
type Listener func(*engine.Result)

// Manager serializes and schedules sync cycles.
type Manager struct {
	engine  *engine.Engine
	monitor connectivity.Monitor
	logger  *log.Logger

	mu          sync.Mutex
	syncing     bool
	started     bool
	lastAuto    time.Time
	lastResult  *engine.Result
	lastSyncAt  time.Time
	nextID      int
	listeners   map[int]Listener
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// autoOpts is applied to automatically triggered cycles (ticker,
	// reconnect); manual Sync calls carry their own options.
	autoOpts engine.Options

	// minAutoGap is the debounce window for automatic triggers.
	minAutoGap time.Duration
	now        func() time.Time
}

// New creates a manager over the given engine and monitor.
func New(e *engine.Engine, monitor connectivity.Monitor) *Manager {
	return &Manager{
		engine:     e,
		monitor:    monitor,
		logger:     log.New(os.Stderr, "[syncmgr] ", log.LstdFlags),
		listeners:  make(map[int]Listener),
		minAutoGap: 10 * time.Second,
		now:        time.Now,
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(l *log.Logger) { m.logger = l }

// SetAutoOptions sets the engine options used by automatic cycles,
// e.g. per-item progress callbacks for the dashboard. Call before
// Start.
func (m *Manager) SetAutoOptions(opts engine.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoOpts = opts
}

// Start begins periodic syncing at the given interval and subscribes
// to reconnect triggers. An immediate cycle runs first so a freshly
// started daemon drains whatever accumulated while it was down.
// Calling Start on a started manager logs a warning and does nothing.
func (m *Manager) Start(interval time.Duration) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Printf("warning: Start called on a running manager, ignoring")
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.unsubscribe = m.monitor.OnOnline(func() {
		m.logger.Printf("connectivity restored, triggering sync")
		go m.autoSync(ctx)
	})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.autoSync(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.autoSync(ctx)
			}
		}
	}()
}

// Stop cancels the periodic loop and the reconnect subscription. A
// cycle already in flight finishes its current item and aborts.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	unsubscribe := m.unsubscribe
	m.cancel = nil
	m.unsubscribe = nil
	m.mu.Unlock()

	unsubscribe()
	cancel()
	m.wg.Wait()
}

// autoSync runs a debounced automatic cycle. Two automatic triggers
// inside the debounce window collapse into one cycle.
func (m *Manager) autoSync(ctx context.Context) {
	m.mu.Lock()
	if m.now().Sub(m.lastAuto) < m.minAutoGap {
		m.mu.Unlock()
		return
	}
	m.lastAuto = m.now()
	opts := m.autoOpts
	m.mu.Unlock()

	m.Sync(ctx, opts)
}

// Sync runs one cycle now. Manual calls are not debounced; they are
// still single-flight, and a call that lands while another cycle is
// running returns immediately with a skipped result.
func (m *Manager) Sync(ctx context.Context, opts engine.Options) *engine.Result {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		result := &engine.Result{Success: false, Message: ErrSyncInProgress}
		m.notify(result)
		return result
	}
	m.syncing = true
	m.mu.Unlock()

	result := m.engine.ProcessQueue(ctx, opts)

	m.mu.Lock()
	m.syncing = false
	m.lastResult = result
	m.lastSyncAt = m.now()
	m.mu.Unlock()

	m.notify(result)
	return result
}

// AddListener registers a listener for cycle results. The returned
// function unsubscribes.
func (m *Manager) AddListener(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) notify(result *engine.Result) {
	m.mu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(result)
	}
}

// Status is a point-in-time snapshot for the CLI and dashboard.
type Status struct {
	Online     bool
	Syncing    bool
	LastSyncAt time.Time
	LastResult *engine.Result
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Online:     m.monitor.Online(),
		Syncing:    m.syncing,
		LastSyncAt: m.lastSyncAt,
		LastResult: m.lastResult,
	}
}
