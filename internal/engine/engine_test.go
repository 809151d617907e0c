package engine

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vetlabs/pawsync/internal/api"
	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
)

// fakeRemote echoes requests back as canonical responses and records
// which calls were made. Setting err makes every call fail.
type fakeRemote struct {
	calls []string
	err   error
}

func (f *fakeRemote) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeRemote) CreatePet(_ context.Context, pet *model.Pet, _ string) (*model.Pet, error) {
	f.record("createPet")
	if f.err != nil {
		return nil, f.err
	}
	out := *pet
	return &out, nil
}

func (f *fakeRemote) UpdatePet(_ context.Context, pet *model.Pet, _ string) (*model.Pet, error) {
	f.record("updatePet")
	if f.err != nil {
		return nil, f.err
	}
	out := *pet
	out.Notes = "server-annotated"
	return &out, nil
}

func (f *fakeRemote) DeletePet(_ context.Context, _, _ string) error {
	f.record("deletePet")
	return f.err
}

func (f *fakeRemote) CreateMedication(_ context.Context, med *model.Medication, _ string) (*model.Medication, error) {
	f.record("createMedication")
	if f.err != nil {
		return nil, f.err
	}
	out := *med
	return &out, nil
}

func (f *fakeRemote) UpdateMedication(_ context.Context, med *model.Medication, _ string) (*model.Medication, error) {
	f.record("updateMedication")
	if f.err != nil {
		return nil, f.err
	}
	out := *med
	return &out, nil
}

func (f *fakeRemote) DeleteMedication(_ context.Context, _, _ string) error {
	f.record("deleteMedication")
	return f.err
}

func (f *fakeRemote) CreateFavorite(_ context.Context, fav *model.Favorite, _ string) (*model.Favorite, error) {
	f.record("createFavorite")
	if f.err != nil {
		return nil, f.err
	}
	out := *fav
	return &out, nil
}

func (f *fakeRemote) UpdateFavorite(_ context.Context, fav *model.Favorite, _ string) (*model.Favorite, error) {
	f.record("updateFavorite")
	if f.err != nil {
		return nil, f.err
	}
	out := *fav
	return &out, nil
}

func (f *fakeRemote) DeleteFavorite(_ context.Context, _, _ string) error {
	f.record("deleteFavorite")
	return f.err
}

type fixture struct {
	store   *store.Store
	queue   *queue.Queue
	pets    *repo.PetRepo
	meds    *repo.MedicationRepo
	favs    *repo.FavoriteRepo
	remote  *fakeRemote
	monitor *connectivity.Manual
	engine  *Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()

	s := store.New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store:   s,
		queue:   queue.New(s),
		pets:    repo.NewPetRepo(s),
		meds:    repo.NewMedicationRepo(s),
		favs:    repo.NewFavoriteRepo(s),
		remote:  &fakeRemote{},
		monitor: connectivity.NewManual(true),
	}
	f.engine = New(f.queue, f.remote, Stores{
		Pets:        f.pets,
		Medications: f.meds,
		Favorites:   f.favs,
	}, f.monitor, Config{
		MaxRetryAttempts: 3,
		BackoffBase:      time.Second,
		BackoffMax:       time.Minute,
	})
	// Deterministic backoff for assertions.
	f.engine.jitter = func(time.Duration) time.Duration { return 0 }
	return f
}

// savePetAndEnqueue simulates the app's write path: persist locally,
// then queue the mutation.
func (f *fixture) savePetAndEnqueue(t *testing.T, ctx context.Context, pet *model.Pet, op model.Operation) *queue.Item {
	t.Helper()

	if err := f.pets.Save(ctx, pet); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	item, err := f.queue.Enqueue(ctx, op, model.KindPet, pet.ID, pet)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return item
}

func TestOfflineShortCircuits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.monitor.Set(false)

	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpCreate)

	result := f.engine.ProcessQueue(ctx, Options{})
	if result.Success {
		t.Error("offline cycle reported success")
	}
	if !strings.Contains(result.Message, "offline") {
		t.Errorf("Message = %q", result.Message)
	}
	if len(f.remote.calls) != 0 {
		t.Errorf("remote was called while offline: %v", f.remote.calls)
	}

	// The item is untouched for the next cycle.
	pending, err := f.queue.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("CountPending = %d, want 1", pending)
	}
}

func TestEmptyQueueTriviallySucceeds(t *testing.T) {
	f := setup(t)

	result := f.engine.ProcessQueue(context.Background(), Options{})
	if !result.Success || result.SyncedCount != 0 || result.FailedCount != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestDrainAppliesServerResponse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pet := &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}
	item := f.savePetAndEnqueue(t, ctx, pet, model.OpUpdate)

	var progress []int
	startTotal := 0
	result := f.engine.ProcessQueue(ctx, Options{
		OnStart:    func(total int) { startTotal = total },
		OnProgress: func(done, total int) { progress = append(progress, done) },
	})
	if !result.Success || result.SyncedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if startTotal != 1 {
		t.Errorf("OnStart total = %d, want 1", startTotal)
	}
	if len(progress) != 1 || progress[0] != 1 {
		t.Errorf("progress = %v", progress)
	}

	// The server's canonical record replaced the local copy, keeping
	// the revision the item was based on.
	got, err := f.pets.Get(ctx, "pet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Notes != "server-annotated" {
		t.Errorf("server response not applied, notes = %q", got.Notes)
	}
	if got.LocalRev != item.BaseRev {
		t.Errorf("LocalRev = %d, want %d", got.LocalRev, item.BaseRev)
	}

	pending, err := f.queue.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("item not removed after sync, pending = %d", pending)
	}
}

func TestDeleteRemovesLocalCopy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pet := &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}
	if err := f.pets.Save(ctx, pet); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.queue.Enqueue(ctx, model.OpDelete, model.KindPet, "pet-1", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	result := f.engine.ProcessQueue(ctx, Options{})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if _, err := f.pets.Get(ctx, "pet-1"); !store.IsNotFound(err) {
		t.Errorf("local copy survived delete, err = %v", err)
	}
}

func TestRetriableFailureReschedulesWithBackoff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.remote.err = &api.NetworkError{Op: "updatePet", StatusCode: http.StatusServiceUnavailable}
	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpUpdate)

	start := time.Now()
	result := f.engine.ProcessQueue(ctx, Options{})
	if result.Success || result.FailedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].EntityID != "pet-1" {
		t.Fatalf("Errors = %+v", result.Errors)
	}

	all, err := f.queue.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("queue has %d items", len(all))
	}
	item := all[0]
	if item.Status != queue.StatusPending || item.RetryCount != 1 {
		t.Errorf("item = status %q retry %d", item.Status, item.RetryCount)
	}
	// First retry is pushed out by the base backoff, so the item is not
	// due in an immediately following cycle.
	if item.NextAttemptAt.Before(start.Add(900 * time.Millisecond)) {
		t.Errorf("NextAttemptAt = %v, want >= start+1s", item.NextAttemptAt)
	}

	again := f.engine.ProcessQueue(ctx, Options{})
	if !again.Success || again.SyncedCount != 0 {
		t.Errorf("backed-off item was picked up early: %+v", again)
	}
}

func TestNonRetriableFailureParksItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.remote.err = &api.NetworkError{Op: "updatePet", StatusCode: http.StatusUnprocessableEntity}
	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpUpdate)

	result := f.engine.ProcessQueue(ctx, Options{})
	if result.FailedCount != 1 {
		t.Fatalf("result = %+v", result)
	}

	failed, err := f.queue.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].LastError == "" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.remote.err = &api.NetworkError{Op: "updatePet", StatusCode: http.StatusInternalServerError}
	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpUpdate)

	// Drive the clock forward between cycles so each backed-off item is
	// due again.
	clock := time.Now()
	f.engine.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		result := f.engine.ProcessQueue(ctx, Options{})
		if result.Success {
			t.Fatalf("cycle %d succeeded unexpectedly", i)
		}
		clock = clock.Add(10 * time.Minute)
	}

	// Attempts 1 and 2 reschedule; attempt 3 exhausts the budget of 3.
	failed, err := f.queue.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed items = %d, want 1", len(failed))
	}
	if got := len(f.remote.calls); got != 3 {
		t.Errorf("remote calls = %d, want 3", got)
	}
}

func TestExhaustedItemFailsWithoutNetworkCall(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	item := f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpUpdate)
	// Simulate a retry count accumulated under a larger budget.
	for i := 0; i < 3; i++ {
		if err := f.queue.Reschedule(ctx, item, time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
	}

	result := f.engine.ProcessQueue(ctx, Options{})
	if result.FailedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Errors[0].Message, "max retry attempts exceeded") {
		t.Errorf("error = %q", result.Errors[0].Message)
	}
	if len(f.remote.calls) != 0 {
		t.Errorf("exhausted item still hit the network: %v", f.remote.calls)
	}
}

func TestAbortBetweenItems(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}, model.OpUpdate)
	f.savePetAndEnqueue(t, ctx, &model.Pet{ID: "pet-2", OwnerID: "u", Name: "Milo", Species: "cat"}, model.OpUpdate)

	result := f.engine.ProcessQueue(ctx, Options{
		OnProgress: func(done, total int) {
			if done == 1 {
				cancel()
			}
		},
	})
	if result.Success {
		t.Error("aborted cycle reported success")
	}
	if result.SyncedCount != 1 {
		t.Errorf("SyncedCount = %d, want 1", result.SyncedCount)
	}

	// The unprocessed item stays pending for the next cycle.
	pending, err := f.queue.CountPending(context.Background())
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("CountPending = %d, want 1", pending)
	}
}

func TestMidSyncEditKeepsLocalAndRequeues(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pet := &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}
	item := f.savePetAndEnqueue(t, ctx, pet, model.OpUpdate)

	// Edit again after the item was enqueued: the stored revision moves
	// past the item's base.
	edited := *pet
	edited.Name = "Rexford"
	if err := f.pets.Save(ctx, &edited); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	result := f.engine.ProcessQueue(ctx, Options{})
	if !result.Success || result.SyncedCount != 1 {
		t.Fatalf("result = %+v", result)
	}

	// The newer local edit survived instead of being overwritten by the
	// server echo of the stale payload.
	got, err := f.pets.Get(ctx, "pet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Rexford" {
		t.Errorf("local edit lost, name = %q", got.Name)
	}

	// A fresh update item carrying the edited payload was queued.
	pending, err := f.queue.ListPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d items, want 1", len(pending))
	}
	fresh := pending[0]
	if fresh.ID == item.ID || fresh.Op != model.OpUpdate || fresh.BaseRev != got.LocalRev {
		t.Errorf("requeued item = %+v", fresh)
	}
}

func TestMedicationAndFavoriteDispatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	med := &model.Medication{ID: "med-1", PetID: "pet-1", Name: "Carprofen", Active: true}
	if err := f.meds.Save(ctx, med); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.queue.Enqueue(ctx, model.OpCreate, model.KindMedication, med.ID, med); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	fav := &model.Favorite{ID: "fav-1", Type: "drug", RefID: "carprofen"}
	if err := f.favs.Save(ctx, fav); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.queue.Enqueue(ctx, model.OpCreate, model.KindFavorite, fav.ID, fav); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	result := f.engine.ProcessQueue(ctx, Options{})
	if !result.Success || result.SyncedCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(f.remote.calls) != 2 || f.remote.calls[0] != "createMedication" || f.remote.calls[1] != "createFavorite" {
		t.Errorf("calls = %v", f.remote.calls)
	}
}
