package syncmgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/engine"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
)

// gateRemote lets a test hold a sync cycle open: every mutating call
// signals entered and then blocks until release is closed.
type gateRemote struct {
	entered chan struct{}
	release chan struct{}
}

func newGateRemote() *gateRemote {
	return &gateRemote{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gateRemote) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gateRemote) CreatePet(_ context.Context, pet *model.Pet, _ string) (*model.Pet, error) {
	g.wait()
	out := *pet
	return &out, nil
}

func (g *gateRemote) UpdatePet(_ context.Context, pet *model.Pet, _ string) (*model.Pet, error) {
	g.wait()
	out := *pet
	return &out, nil
}

func (g *gateRemote) DeletePet(_ context.Context, _, _ string) error { g.wait(); return nil }

func (g *gateRemote) CreateMedication(_ context.Context, med *model.Medication, _ string) (*model.Medication, error) {
	g.wait()
	out := *med
	return &out, nil
}

func (g *gateRemote) UpdateMedication(_ context.Context, med *model.Medication, _ string) (*model.Medication, error) {
	g.wait()
	out := *med
	return &out, nil
}

func (g *gateRemote) DeleteMedication(_ context.Context, _, _ string) error { g.wait(); return nil }

func (g *gateRemote) CreateFavorite(_ context.Context, fav *model.Favorite, _ string) (*model.Favorite, error) {
	g.wait()
	out := *fav
	return &out, nil
}

func (g *gateRemote) UpdateFavorite(_ context.Context, fav *model.Favorite, _ string) (*model.Favorite, error) {
	g.wait()
	out := *fav
	return &out, nil
}

func (g *gateRemote) DeleteFavorite(_ context.Context, _, _ string) error { g.wait(); return nil }

type fixture struct {
	queue   *queue.Queue
	pets    *repo.PetRepo
	remote  *gateRemote
	monitor *connectivity.Manual
	manager *Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()

	s := store.New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		queue:   queue.New(s),
		pets:    repo.NewPetRepo(s),
		remote:  newGateRemote(),
		monitor: connectivity.NewManual(true),
	}
	e := engine.New(f.queue, f.remote, engine.Stores{
		Pets:        f.pets,
		Medications: repo.NewMedicationRepo(s),
		Favorites:   repo.NewFavoriteRepo(s),
	}, f.monitor, engine.DefaultConfig())
	f.manager = New(e, f.monitor)
	return f
}

func (f *fixture) enqueuePet(t *testing.T, id string) {
	t.Helper()

	pet := &model.Pet{ID: id, OwnerID: "u", Name: "Rex", Species: "dog"}
	if err := f.pets.Save(context.Background(), pet); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.queue.Enqueue(context.Background(), model.OpUpdate, model.KindPet, id, pet); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	f := setup(t)
	f.enqueuePet(t, "pet-1")

	first := make(chan *engine.Result, 1)
	go func() {
		first <- f.manager.Sync(context.Background(), engine.Options{})
	}()

	// Wait until the first cycle is inside the remote call, then race a
	// second one against it.
	select {
	case <-f.remote.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the remote")
	}

	second := f.manager.Sync(context.Background(), engine.Options{})
	if second.Success || second.Message != ErrSyncInProgress {
		t.Errorf("concurrent sync = %+v", second)
	}

	close(f.remote.release)
	select {
	case result := <-first:
		if !result.Success || result.SyncedCount != 1 {
			t.Errorf("first sync = %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never finished")
	}

	if f.manager.Status().LastSyncAt.IsZero() {
		t.Error("LastSyncAt not recorded")
	}
}

func TestListenersNotifiedAndUnsubscribed(t *testing.T) {
	f := setup(t)
	close(f.remote.release)

	var got []*engine.Result
	unsubscribe := f.manager.AddListener(func(r *engine.Result) { got = append(got, r) })

	f.manager.Sync(context.Background(), engine.Options{})
	if len(got) != 1 || !got[0].Success {
		t.Fatalf("listener saw %+v", got)
	}

	unsubscribe()
	f.manager.Sync(context.Background(), engine.Options{})
	if len(got) != 1 {
		t.Errorf("unsubscribed listener still notified, %d results", len(got))
	}
}

func TestAutoSyncDebounce(t *testing.T) {
	f := setup(t)
	close(f.remote.release)

	clock := time.Now()
	f.manager.now = func() time.Time { return clock }
	f.manager.minAutoGap = time.Minute

	runs := 0
	f.manager.AddListener(func(*engine.Result) { runs++ })

	ctx := context.Background()
	// Two triggers inside the window collapse into one cycle; the real
	// scenario is an online event racing the periodic timer.
	f.manager.autoSync(ctx)
	f.manager.autoSync(ctx)
	if runs != 1 {
		t.Fatalf("runs = %d after debounced triggers, want 1", runs)
	}

	clock = clock.Add(2 * time.Minute)
	f.manager.autoSync(ctx)
	if runs != 2 {
		t.Errorf("runs = %d after window passed, want 2", runs)
	}
}

func TestAutoSyncCarriesOptions(t *testing.T) {
	f := setup(t)
	close(f.remote.release)
	f.enqueuePet(t, "pet-1")
	f.manager.minAutoGap = 0

	itemSyncs := 0
	f.manager.SetAutoOptions(engine.Options{
		OnItemSync: func(*queue.Item, error) { itemSyncs++ },
	})

	f.manager.autoSync(context.Background())
	if itemSyncs != 1 {
		t.Errorf("OnItemSync fired %d times during auto cycle, want 1", itemSyncs)
	}
}

func TestManualSyncNotDebounced(t *testing.T) {
	f := setup(t)
	close(f.remote.release)

	f.manager.minAutoGap = time.Hour

	runs := 0
	f.manager.AddListener(func(*engine.Result) { runs++ })

	ctx := context.Background()
	f.manager.autoSync(ctx)
	f.manager.Sync(ctx, engine.Options{})
	f.manager.Sync(ctx, engine.Options{})
	if runs != 3 {
		t.Errorf("runs = %d, want 3 (manual syncs bypass the debounce)", runs)
	}
}

func TestStartRunsImmediateSyncAndStops(t *testing.T) {
	f := setup(t)
	close(f.remote.release)
	f.enqueuePet(t, "pet-1")

	results := make(chan *engine.Result, 4)
	f.manager.AddListener(func(r *engine.Result) { results <- r })

	f.manager.Start(time.Hour)
	// Starting again is a warned no-op, not a second loop.
	f.manager.Start(time.Hour)

	select {
	case result := <-results:
		if !result.Success || result.SyncedCount != 1 {
			t.Errorf("initial sync = %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not run an immediate sync")
	}

	f.manager.Stop()
	f.manager.Stop()
}

func TestReconnectTriggersSync(t *testing.T) {
	f := setup(t)
	close(f.remote.release)
	f.manager.minAutoGap = 0

	results := make(chan *engine.Result, 4)

	f.manager.Start(time.Hour)
	defer f.manager.Stop()

	// Let the initial cycle pass before watching for the reconnect one.
	time.Sleep(100 * time.Millisecond)
	f.manager.AddListener(func(r *engine.Result) { results <- r })

	f.enqueuePet(t, "pet-1")
	f.monitor.Set(false)
	f.monitor.Set(true)

	select {
	case result := <-results:
		if result.SyncedCount != 1 {
			t.Errorf("reconnect sync = %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect did not trigger a sync")
	}
}
