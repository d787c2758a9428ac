package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/trail/pkg/api"
	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/tracker"
	"github.com/cuemby/trail/pkg/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracking pipeline",
	Long: `Run reads newline-delimited JSON fixes from --fixes (or stdin), samples
them into the durable queue and flushes the queue to the backend. The admin
API is served on admin.addr unless --admin-addr is empty.

Each fix is an object such as:

  {"latitude":40.41,"longitude":-3.70,"accuracy":12,"speed":1.4,"timestamp":"2026-01-02T10:00:00Z"}

The pipeline stops when the input ends (after a final flush) or on Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		fixesPath, _ := cmd.Flags().GetString("fixes")
		watch, _ := cmd.Flags().GetBool("watch")
		watchTypes, _ := cmd.Flags().GetStringSlice("watch-type")
		adminAddr := a.cfg.Admin.Addr
		if cmd.Flags().Changed("admin-addr") {
			adminAddr, _ = cmd.Flags().GetString("admin-addr")
		}

		input := io.Reader(os.Stdin)
		if fixesPath != "" && fixesPath != "-" {
			f, err := os.Open(fixesPath)
			if err != nil {
				return fmt.Errorf("failed to open fixes: %v", err)
			}
			defer f.Close()
			input = f
		}

		logger := log.WithComponent("run")
		logger.Info().
			Str("device_id", a.deviceID).
			Str("auth_state", string(a.session.State())).
			Str("data_dir", a.cfg.DataDir).
			Msg("Starting pipeline")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.broker.Start()
		if watch {
			go printEvents(ctx, a, watchTypes)
		}

		metrics.RegisterComponent(metrics.ComponentQueue, true, "")
		collector := metrics.NewCollector(a.store, a.session)
		collector.Start()
		defer collector.Stop()

		resetOnLogout(ctx, a.broker, a.sampler)

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-a.coord.Escalation().C():
					logger.Warn().Msg("Session locked: unlock with `trail unlock` or POST /unlock")
				}
			}
		}()

		errCh := make(chan error, 2)
		var admin *api.Server
		if adminAddr != "" {
			admin = api.NewServer(api.Config{
				Session:   a.session,
				Queue:     a.store,
				Flusher:   a.engine,
				Unlocker:  a.gate,
				BatchSize: a.cfg.Sync.BatchSize,
			})
			go func() {
				if err := admin.Start(adminAddr); err != nil {
					errCh <- fmt.Errorf("admin API error: %v", err)
				}
			}()
		}

		tr := tracker.NewTracker(tracker.Config{
			BatchSize:      a.cfg.Sync.BatchSize,
			FlushInterval:  a.cfg.Sync.Interval,
			FlushThreshold: a.cfg.Sync.FlushThreshold,
		}, a.sampler, a.store, a.engine, a.broker)

		fixes := make(chan types.Fix)
		go func() {
			if err := tracker.ReadFixes(ctx, input, fixes); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
		tr.Start(ctx, fixes)

		var runErr error
		select {
		case <-tr.Done():
			logger.Info().Msg("Fix stream ended")
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
		case runErr = <-errCh:
		}

		stop()
		tr.Stop()
		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Admin API shutdown failed")
			}
		}

		if n, err := a.store.Len(); err == nil {
			logger.Info().Int("queued", n).Msg("Pipeline stopped")
		}
		return runErr
	},
}

type cursorResetter interface {
	Reset()
}

// resetOnLogout forgets the sampler cursor whenever the session is cleared,
// so the next user's first sample starts fresh. The subscription is taken
// before it returns.
func resetOnLogout(ctx context.Context, broker *events.Broker, s cursorResetter) {
	sub := broker.Subscribe(events.EventAuthLoggedOut)
	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				s.Reset()
				logger := log.WithComponent("run")
				logger.Debug().Msg("Session cleared, sampler reset")
			}
		}
	}()
}

// printEvents writes pipeline events to stdout as JSON lines
func printEvents(ctx context.Context, a *app, kinds []string) {
	filter := make([]events.EventType, 0, len(kinds))
	for _, t := range kinds {
		filter = append(filter, events.EventType(t))
	}
	sub := a.broker.Subscribe(filter...)
	defer a.broker.Unsubscribe(sub)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			_ = enc.Encode(event)
		}
	}
}

func init() {
	runCmd.Flags().String("fixes", "", "NDJSON file of fixes (default stdin)")
	runCmd.Flags().String("admin-addr", "", "Admin API listen address (overrides config; empty disables)")
	runCmd.Flags().Bool("watch", false, "Print pipeline events to stdout")
	runCmd.Flags().StringSlice("watch-type", nil, "Only print these event types (e.g. flush.failed,auth.pin_required)")
}
