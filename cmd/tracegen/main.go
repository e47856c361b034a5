package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/liyuyun/incubator-skywalking/internal/config"
	"github.com/liyuyun/incubator-skywalking/pkg/remote"
	"github.com/liyuyun/incubator-skywalking/pkg/reporter"
	"github.com/liyuyun/incubator-skywalking/pkg/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	rate := flag.Int("rate", 10, "segments generated per second")
	asyncPct := flag.Int("async", 20, "percent of segments finished before their async span lands")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("tracegen starting", "config", *configPath, "rate", *rate)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"collector", cfg.Collector.Address,
		"service", cfg.Service.Name,
		"channels", cfg.Buffer.Channels,
		"channel_size", cfg.Buffer.ChannelSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr := remote.NewManager(cfg.Collector.Address)
	rep := reporter.New(mgr, reporter.Options{
		Channels:       cfg.Buffer.Channels,
		ChannelSize:    cfg.Buffer.ChannelSize,
		BatchSize:      cfg.Buffer.BatchSize,
		CompletionWait: cfg.Reporter.CompletionTimeout,
		FlushInterval:  cfg.Reporter.FlushInterval,
	})
	mgr.AddListener(rep)
	rep.Start()
	defer rep.Shutdown()

	notifier := &trace.Notifier{}
	notifier.AddListener(rep)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return mgr.Run(ctx) })

	// Hot-reload: only the collector address is adopted at runtime;
	// buffer geometry changes need a restart.
	g.Go(func() error {
		return config.Watch(ctx, *configPath, func(updated *config.Config) {
			mgr.SetAddress(updated.Collector.Address)
		})
	})

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		generate(ctx, notifier, cfg.Service, *rate, *asyncPct)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("tracegen stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("tracegen shutting down")
}

// generate emits synthetic segments until ctx is cancelled. A configurable
// fraction is finished while an asynchronous span is still pending, which
// exercises the deferred-readiness path end to end.
func generate(ctx context.Context, n *trace.Notifier, svc config.ServiceConfig, rate, asyncPct int) {
	if rate < 1 {
		rate = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seg := trace.NewSegment(svc.Name, svc.Instance)
			start := time.Now()
			seg.AddSpan(trace.Span{
				Operation: "GET /api/orders",
				Kind:      trace.SpanEntry,
				Start:     start,
				End:       start.Add(time.Duration(rand.Intn(40)+5) * time.Millisecond),
				Tags:      map[string]string{"http.method": "GET", "http.status_code": "200"},
			})
			seg.AddSpan(trace.Span{
				Operation: "SELECT orders",
				Peer:      "postgres:5432",
				Kind:      trace.SpanExit,
				Start:     start,
				End:       start.Add(time.Duration(rand.Intn(20)+1) * time.Millisecond),
			})

			if rand.Intn(100) < asyncPct {
				// Finish the segment with one span still in flight; the
				// pipeline must hold it until EndAsync.
				seg.StartAsync()
				time.AfterFunc(time.Duration(rand.Intn(200)+50)*time.Millisecond, func() {
					done := time.Now()
					seg.AddSpan(trace.Span{
						Operation: "async: publish order-events",
						Peer:      "kafka:9092",
						Kind:      trace.SpanExit,
						Start:     start,
						End:       done,
					})
					seg.EndAsync()
				})
			}

			n.Finish(seg)
		}
	}
}
