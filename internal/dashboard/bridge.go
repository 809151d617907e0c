package dashboard

import (
	"context"

	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/engine"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/syncmgr"
)

// Bridge subscribes the dashboard to the sync manager and connectivity
// monitor, translating their callbacks into broadcast messages.
type Bridge struct {
	server  *Server
	manager *syncmgr.Manager
	monitor connectivity.Monitor
	queue   *queue.Queue
	unsubs  []func()
}

// NewBridge wires the given components to the server. Call Attach to
// start forwarding events and Detach on shutdown.
func NewBridge(server *Server, manager *syncmgr.Manager, monitor connectivity.Monitor, q *queue.Queue) *Bridge {
	return &Bridge{server: server, manager: manager, monitor: monitor, queue: q}
}

// Attach subscribes to sync results and connectivity transitions.
func (b *Bridge) Attach() {
	b.unsubs = append(b.unsubs,
		b.manager.AddListener(func(result *engine.Result) {
			b.server.Broadcast(MessageTypeSyncComplete, SyncCompleteData{
				Success:     result.Success,
				SyncedCount: result.SyncedCount,
				FailedCount: result.FailedCount,
				Message:     result.Message,
			})
		}),
		b.monitor.OnOnline(func() {
			b.server.Broadcast(MessageTypeConnectivity, ConnectivityData{Online: true})
		}),
		b.monitor.OnOffline(func() {
			b.server.Broadcast(MessageTypeConnectivity, ConnectivityData{Online: false})
		}),
	)
}

// Detach removes all subscriptions.
func (b *Bridge) Detach() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}

// SyncOptions returns engine options that broadcast per-item progress.
func (b *Bridge) SyncOptions() engine.Options {
	return engine.Options{
		OnStart: func(total int) {
			b.server.Broadcast(MessageTypeSyncStarted, SyncStartedData{Total: total})
		},
		OnItemSync: func(item *queue.Item, err error) {
			data := ItemSyncedData{
				ItemID:     item.ID,
				Op:         string(item.Op),
				EntityKind: string(item.EntityKind),
				EntityID:   item.EntityID,
			}
			if err != nil {
				data.Error = err.Error()
			}
			b.server.Broadcast(MessageTypeItemSynced, data)
		},
	}
}

// Status builds the snapshot function for the server config.
func (b *Bridge) Status() func(context.Context) (StatusData, error) {
	return func(ctx context.Context) (StatusData, error) {
		pending, err := b.queue.CountPending(ctx)
		if err != nil {
			return StatusData{}, err
		}
		failed, err := b.queue.CountFailed(ctx)
		if err != nil {
			return StatusData{}, err
		}

		status := b.manager.Status()
		data := StatusData{
			Online:       status.Online,
			Syncing:      status.Syncing,
			PendingCount: pending,
			FailedCount:  failed,
			LastSyncAt:   status.LastSyncAt,
		}
		if status.LastResult != nil {
			data.LastSuccess = status.LastResult.Success
		}
		return data, nil
	}
}
