package connectivity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManualTransitions(t *testing.T) {
	m := NewManual(false)

	var onlineCalls, offlineCalls int
	m.OnOnline(func() { onlineCalls++ })
	m.OnOffline(func() { offlineCalls++ })

	// Repeating the current state is not a transition.
	m.Set(false)
	if onlineCalls != 0 || offlineCalls != 0 {
		t.Fatalf("callbacks fired without a transition: online=%d offline=%d", onlineCalls, offlineCalls)
	}

	m.Set(true)
	if !m.Online() {
		t.Error("Online() = false after Set(true)")
	}
	if onlineCalls != 1 {
		t.Errorf("online callbacks = %d, want 1", onlineCalls)
	}

	m.Set(true)
	if onlineCalls != 1 {
		t.Errorf("duplicate online state fired callback, calls = %d", onlineCalls)
	}

	m.Set(false)
	if offlineCalls != 1 {
		t.Errorf("offline callbacks = %d, want 1", offlineCalls)
	}
}

func TestManualUnsubscribe(t *testing.T) {
	m := NewManual(false)

	calls := 0
	unsubscribe := m.OnOnline(func() { calls++ })
	unsubscribe()

	m.Set(true)
	if calls != 0 {
		t.Errorf("unsubscribed callback fired %d times", calls)
	}
}

func TestWatcherTracksStateFile(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "operstate")
	if err := os.WriteFile(state, []byte("down\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewWatcher(state)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if w.Online() {
		t.Fatal("Online() = true for operstate down")
	}

	online := make(chan struct{}, 1)
	w.OnOnline(func() { online <- struct{}{} })

	if err := os.WriteFile(state, []byte("up\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for online transition")
	}
	if !w.Online() {
		t.Error("Online() = false after operstate up")
	}
}

func TestWatcherMissingFileIsOffline(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "operstate"))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if w.Online() {
		t.Error("Online() = true for missing state file")
	}
}

func TestWatcherStartStop(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "operstate")
	if err := os.WriteFile(state, []byte("up"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewWatcher(state)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := w.Start(); err == nil {
		t.Error("second Start did not fail")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	// Stop is idempotent.
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
