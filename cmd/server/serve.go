package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/scribe/internal/adapters/http"
	"github.com/dkeye/scribe/internal/adapters/signal"
	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/app/orch"
	"github.com/dkeye/scribe/internal/config"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/janitor"
	"github.com/dkeye/scribe/internal/notify"
	"github.com/dkeye/scribe/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func roomConfig(cfg *config.Config) app.RoomConfig {
	return app.RoomConfig{
		Capacity:      cfg.Room.Capacity,
		GracePeriod:   cfg.Room.GracePeriod,
		HistoryLimit:  cfg.Room.HistoryLimit,
		MaxMessageLen: cfg.Room.MaxMessageLen,
		MaxNameLen:    cfg.Room.MaxNameLen,
		CodeAttempts:  cfg.Room.CodeAttempts,
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	var notifier core.Notifier = notify.Nop{}
	if cfg.NATS.URL != "" {
		n, err := notify.Dial(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer n.Close()
		notifier = n
	}

	persister := app.NewPersister(st, cfg.Persist.RetryInterval)
	rooms, err := app.NewRoomManager(roomConfig(cfg), st,
		app.WithPersister(persister),
		app.WithNotifier(notifier),
		app.WithPolicy(app.SimplePolicy{}),
	)
	if err != nil {
		return err
	}
	defer rooms.Close()

	reg := app.NewRegistry()
	o := orch.New(reg, rooms)
	ws := signal.NewSignalWSController(o, signal.NewRateLimiter(cfg.Rate.Messages, cfg.Rate.Interval), signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	r := router.SetupRouter(ctx, cfg, rooms, ws, reg.Count)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("scribe server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return persister.Run(gctx) })
	g.Go(func() error {
		return janitor.New(st, rooms, cfg.Janitor.Interval, cfg.Janitor.MaxIdle).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		drain(srv, persister, 5*time.Second)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("server exited")
	return err
}

// drain stops the server, then writes what the closing connections left
// behind. Disconnects dispatched during shutdown land after the persister's
// own final flush.
func drain(srv *http.Server, persister *app.Persister, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if failed := persister.Flush(ctx); failed > 0 {
		log.Warn().Int("failed", failed).Msg("rooms left unsaved at shutdown")
	}
}
