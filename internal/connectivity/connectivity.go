// Package connectivity tracks whether the device currently has network
// access and notifies subscribers when that changes.
//
// The sync engine only consults Online() at the start of a cycle; the
// sync manager additionally subscribes to transitions so an offline ->
// online flip triggers an immediate sync.
package connectivity

import "sync"

// Monitor reports the current connectivity state and emits transition
// callbacks. Implementations must deliver callbacks for a transition at
// most once, even if the underlying signal repeats the same state.
type Monitor interface {
	// Online reports whether the device currently has network access.
	Online() bool
	// OnOnline registers fn to run on each offline -> online transition.
	// The returned function unsubscribes.
	OnOnline(fn func()) (unsubscribe func())
	// OnOffline registers fn to run on each online -> offline transition.
	// The returned function unsubscribes.
	OnOffline(fn func()) (unsubscribe func())
}

// Manual is a Monitor whose state is driven by explicit Set calls. It
// backs the file-based watcher and stands alone in tests and one-shot
// CLI runs, where connectivity is asserted rather than observed.
type Manual struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	onOnline  map[int]func()
	onOffline map[int]func()
}

// NewManual creates a manual monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online:    online,
		onOnline:  make(map[int]func()),
		onOffline: make(map[int]func()),
	}
}

// Online reports the last state passed to Set.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state. Callbacks fire only on an actual transition
// and run synchronously, without the internal lock held.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	var fns []func()
	src := m.onOffline
	if online {
		src = m.onOnline
	}
	for _, fn := range src {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnOnline registers a callback for offline -> online transitions.
func (m *Manual) OnOnline(fn func()) func() {
	return m.subscribe(fn, true)
}

// OnOffline registers a callback for online -> offline transitions.
func (m *Manual) OnOffline(fn func()) func() {
	return m.subscribe(fn, false)
}

func (m *Manual) subscribe(fn func(), online bool) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	reg := m.onOffline
	if online {
		reg = m.onOnline
	}
	reg[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(reg, id)
	}
}
