package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/dashboard"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run pawsync as a long-lived process: periodic sync, immediate sync on
reconnect, and a WebSocket dashboard for monitoring.

The daemon watches the configured network state file (net_state_file)
so an offline -> online flip triggers a sync without waiting for the
next tick.

Example usage:
  pawsync daemon                       # Use config defaults
  pawsync daemon --dashboard-port 9000 # Custom dashboard port
  pawsync daemon --no-dashboard        # Sync loop only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("dashboard-port")
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		// Daemon logs rotate instead of filling the disk of a device
		// that may run unattended for months.
		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if a.cfg.LogFile != "" {
			output := &lumberjack.Logger{
				Filename:   a.cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			logger.SetOutput(output)
			a.engine.SetLogger(log.New(output, "[sync] ", log.LstdFlags))
			a.manager.SetLogger(log.New(output, "[syncmgr] ", log.LstdFlags))
		}

		if a.watcher != nil {
			if err := a.watcher.Start(); err != nil {
				return err
			}
			logger.Printf("watching connectivity via %s", a.cfg.NetStateFile)
		} else {
			logger.Printf("no net_state_file configured, assuming always online")
		}

		if port == 0 {
			port = a.cfg.DashboardPort
		}
		var server *dashboard.Server
		if !noDashboard && port > 0 {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
			})
			bridge := dashboard.NewBridge(server, a.manager, a.monitor, a.queue)
			server.SetStatus(bridge.Status())
			a.manager.SetAutoOptions(bridge.SyncOptions())
			if err := server.Start(); err != nil {
				return err
			}
			bridge.Attach()
			defer bridge.Detach()
			fmt.Printf("dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", port, port)
		}

		logger.Printf("starting sync loop, interval %s", a.cfg.SyncInterval)
		a.manager.Start(a.cfg.SyncInterval)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		fmt.Println("daemon running, press Ctrl+C to stop")
		<-ctx.Done()

		logger.Printf("shutting down")
		a.manager.Stop()
		if server != nil {
			if err := server.Stop(); err != nil {
				logger.Printf("dashboard shutdown error: %v", err)
			}
		}
		return nil
	},
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "Dashboard port (default from config)")
	daemonCmd.Flags().Bool("no-dashboard", false, "Disable the dashboard server")

	rootCmd.AddCommand(daemonCmd)
}
