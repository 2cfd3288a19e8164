package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Gibbs-Morris/mississippi-sub002/adapters/nats"
	promadapter "github.com/Gibbs-Morris/mississippi-sub002/adapters/prometheus"
	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
	"github.com/Gibbs-Morris/mississippi-sub002/core/es/estests/domain"
	"github.com/Gibbs-Morris/mississippi-sub002/internal/config"
)

// NOTE: run nats: docker run --net=host nats:latest -js

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadLoadtest()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := promadapter.NewAllMetrics(reg)

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()
	defer func() { _ = srv.Close() }()

	opts := []es.EnvOption{
		es.WithLog(log),
		es.WithCtx(ctx),
		es.WithMetrics(m.ES),
		es.WithEffectMetrics(m.Effects),
		es.WithMaxEffectIterations(cfg.MaxIterations),
		es.WithEffectPool(es.WithWorkers(cfg.Workers)),
		es.WithSnapshots(es.WithRetainEvery(cfg.RetainEvery)),
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var subscribe func(env *es.Env) error
	if cfg.Backend == "nats" {
		natsOpts, natsClose, natsSubscribe, err := natsBackend(cfg, log)
		if err != nil {
			return err
		}
		opts = append(opts, natsOpts...)
		closers = append(closers, natsClose)
		subscribe = natsSubscribe
	}

	env, err := es.NewEnv(opts...)
	if err != nil {
		return err
	}
	closers = append(closers, env.Shutdown)

	var milestones atomic.Int64
	entity, err := es.Register(env, domain.Definition(func(d *es.Definition[domain.Counter]) {
		d.Effects = append(d.Effects, domain.MilestoneEvery(cfg.Milestone))
		d.FireAndForget = append(d.FireAndForget, es.OnEvent[domain.MilestoneReached]("count_milestones"))
		d.AsyncEffects = append(d.AsyncEffects, es.AsyncEffectFunc(
			"count_milestones",
			func(context.Context, domain.MilestoneReached, domain.Counter, es.EntityKey, es.Position) error {
				milestones.Add(1)
				return nil
			},
		))
	}))
	if err != nil {
		return err
	}
	if subscribe != nil {
		if err := subscribe(env); err != nil {
			return err
		}
	}

	host := es.NewHost(entity, es.WithLog(log))
	closers = append(closers, host.Close)

	log.Info(
		"starting",
		slog.String("backend", cfg.Backend),
		slog.Int("entities", cfg.Entities),
		slog.Int("commands", cfg.Commands),
		slog.Int("concurrency", cfg.Concurrency),
	)

	var (
		next     atomic.Int64
		done     atomic.Int64
		failures sync.Map
		startAt  = time.Now()
		lastAt   = startAt
		lastMu   sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for {
				i := next.Add(1) - 1
				if i >= int64(cfg.Commands) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				id := fmt.Sprintf("counter-%d", i%int64(cfg.Entities))
				res := host.Execute(gctx, id, domain.Increment{})
				if !res.Success {
					n, _ := failures.LoadOrStore(res.ErrorCode, new(atomic.Int64))
					n.(*atomic.Int64).Add(1)
				}
				if d := done.Add(1); cfg.ReportEvery > 0 && d%int64(cfg.ReportEvery) == 0 {
					lastMu.Lock()
					now := time.Now()
					took := now.Sub(lastAt)
					lastAt = now
					lastMu.Unlock()
					mem := memUsage()
					fmt.Printf(
						" | %7d cmds | %6d ms | %7d cmds/s | %4d MiB heap | %3d active |\n",
						d, took.Milliseconds(), int(float64(cfg.ReportEvery)/took.Seconds()), mem/1024/1024, host.Active(),
					)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	took := time.Since(startAt)
	fmt.Println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("     commands: %d\n", done.Load())
	fmt.Printf("avg. cmds/s  : %d\n", int(float64(done.Load())/took.Seconds()))
	fmt.Printf("   milestones: %d (async, may lag)\n", milestones.Load())
	failures.Range(func(k, v any) bool {
		fmt.Printf("  failed %-20s %d\n", k, v.(*atomic.Int64).Load())
		return true
	})
	return nil
}

func natsBackend(cfg config.Loadtest, log *slog.Logger) ([]es.EnvOption, func(), func(*es.Env) error, error) {
	connect := nats.ConnectDefault()
	if cfg.NATS.URL != "" {
		connect = nats.ConnectURL(cfg.NATS.URL)
	}
	connect = nats.ReuseConnection(connect)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := nats.NewEventStore(nats.EventStoreConfig{
		Connect:       connect,
		Log:           log,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		StreamName:    cfg.NATS.StreamName,
		MaxAge:        cfg.NATS.MaxAge,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	closers = append(closers, func() { _ = store.Close() })

	snapshots, err := nats.NewKvStore(nats.KvConfig{
		Connect: connect,
		Log:     log,
		Bucket:  cfg.NATS.Bucket,
		TTL:     cfg.NATS.SnapshotTTL,
	})
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	closers = append(closers, snapshots.Close)

	effectCfg := nats.EffectTransportConfig{Connect: connect, Log: log, SubjectPrefix: cfg.NATS.EffectPrefix}
	publisher, err := nats.NewEffectPublisher(effectCfg)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	closers = append(closers, publisher.Close)

	subscribe := func(env *es.Env) error {
		sub, err := nats.NewEffectSubscriber(effectCfg, env.EffectPool())
		if err != nil {
			return err
		}
		closers = append(closers, sub.Close)
		return nil
	}

	return []es.EnvOption{
		es.WithStore(store),
		es.WithSnapshotKV(snapshots),
		es.WithEffectDispatcher(publisher),
	}, func() { closeAll() }, subscribe, nil
}

func memUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}
