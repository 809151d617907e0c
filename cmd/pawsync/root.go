package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/api"
	"github.com/vetlabs/pawsync/internal/config"
	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/engine"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/records"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
	"github.com/vetlabs/pawsync/internal/syncmgr"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "pawsync",
	Short: "Offline-first sync client for pet medical records",
	Long: `pawsync keeps a local copy of pets, medications, and favorites on
this device and reconciles offline edits with the remote records
service once connectivity returns.

Edits always land in the local database first and are queued for sync;
the queue is drained by 'pawsync sync', or continuously by
'pawsync daemon'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/pawsync/pawsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

// app bundles the wired components behind every command.
type app struct {
	cfg      *config.Config
	store    *store.Store
	queue    *queue.Queue
	pets     *repo.PetRepo
	meds     *repo.MedicationRepo
	favs     *repo.FavoriteRepo
	searches *repo.SearchCache
	svc      *records.Service
	monitor  connectivity.Monitor
	watcher  *connectivity.Watcher
	client   *api.Client
	engine   *engine.Engine
	manager  *syncmgr.Manager
}

// newApp loads config and wires the full component graph. Commands
// that only touch the local database still get a monitor; without a
// configured network state file it assumes online.
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	a := &app{cfg: cfg}
	a.store = store.New(cfg.DBPath)
	a.queue = queue.New(a.store)
	a.pets = repo.NewPetRepo(a.store)
	a.meds = repo.NewMedicationRepo(a.store)
	a.favs = repo.NewFavoriteRepo(a.store)
	a.searches = repo.NewSearchCache(a.store)
	a.svc = records.NewService(a.pets, a.meds, a.favs, a.queue)

	if cfg.NetStateFile != "" {
		watcher, err := connectivity.NewWatcher(cfg.NetStateFile)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("failed to create connectivity watcher: %w", err)
		}
		a.watcher = watcher
		a.monitor = watcher
	} else {
		a.monitor = connectivity.NewManual(true)
	}

	a.client = api.NewClient(cfg.APIBaseURL, func() string { return cfg.APIToken })
	a.engine = engine.New(a.queue, a.client, engine.Stores{
		Pets:        a.pets,
		Medications: a.meds,
		Favorites:   a.favs,
	}, a.monitor, engine.Config{
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
	})
	a.manager = syncmgr.New(a.engine, a.monitor)

	return a, nil
}

func (a *app) close() {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	_ = a.store.Close()
}
