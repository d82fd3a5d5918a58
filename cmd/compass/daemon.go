package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yatin-bhojwani/compass/internal/daemon"
	"github.com/yatin-bhojwani/compass/internal/dashboard"
	"github.com/yatin-bhojwani/compass/internal/remote"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the background refresh daemon",
	Long: `Run the refresh daemon, which keeps the local snapshot current.

The daemon polls the directory changelog on a fixed interval and, when a
spool directory is configured, imports roster dump files dropped there.

With --dashboard-port (or daemon.dashboard_port in the config), a WebSocket
status server broadcasts refresh and import events:
  compass daemon --dashboard-port 8080
  # then connect a client to ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var logOut io.Writer = os.Stderr
		if cfg.Daemon.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   cfg.Daemon.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(logOut, "[daemon] ", log.LstdFlags)

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		port, _ := cmd.Flags().GetInt("dashboard-port")
		if port == 0 {
			port = cfg.Daemon.DashboardPort
		}

		dcfg := &daemon.Config{
			RefreshInterval: cfg.Daemon.RefreshInterval,
			SpoolDir:        cfg.Daemon.SpoolDir,
			Logger:          logger,
		}

		var server *dashboard.Server
		if port > 0 {
			server = dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			dcfg.Notifier = dashboard.NewHandler(server, cfg.Batch.Rule(), logger)
			fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", port, port)
		}

		d, err := daemon.New(st, remote.New(cfg.SearchRoot, logger), dcfg)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("Refresh daemon running (interval %v). Press Ctrl+C to stop.\n", cfg.Daemon.RefreshInterval)
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "Serve the WebSocket status dashboard on this port")

	rootCmd.AddCommand(daemonCmd)
}
