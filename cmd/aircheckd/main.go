// Command aircheckd is the NHK radio recording daemon: it reconciles
// reservations against the broadcast schedule, captures live HLS streams
// with ffmpeg and serves the archive over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airwavehq/aircheck/internal/api"
	"github.com/airwavehq/aircheck/internal/capture"
	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/config"
	"github.com/airwavehq/aircheck/internal/convert"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/scheduler"
	"github.com/airwavehq/aircheck/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "aircheckd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	log.Configure(log.Config{Level: level, Service: "aircheckd"})
	logger := log.WithComponent("main")

	st, err := store.Open(cfg.DataRoot)
	if err != nil {
		return err
	}

	clk := clock.Real{}
	upstream := nhk.New(nhk.Options{
		SeriesBaseURL:   cfg.SeriesBaseURL,
		EventBaseURL:    cfg.EventBaseURL,
		StreamConfigURL: cfg.StreamConfigURL,
		CacheTTL:        cfg.SeriesCacheTTL,
		Clock:           clk,
	})
	worker := capture.New(capture.Config{
		FFmpegPath: cfg.FFmpegPath,
		TailOut:    cfg.TailOut,
		StopGrace:  cfg.StopGrace,
	}, clk, st, nil)
	sched := scheduler.New(scheduler.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		EventHorizon:      cfg.EventHorizon,
		ArmHorizon:        cfg.ArmHorizon,
		LeadIn:            cfg.LeadIn,
	}, clk, st, upstream, worker)
	converter := convert.New(cfg.FFmpegPath, st)

	srv := api.New(api.Options{
		Store:        st,
		Upstream:     upstream,
		Control:      sched,
		Converter:    converter,
		Clock:        clk,
		EventHorizon: cfg.EventHorizon,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Msg("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().Str("data_root", cfg.DataRoot).Msg("aircheckd started")
	err = g.Wait()
	logger.Info().Msg("aircheckd stopped")
	return err
}
