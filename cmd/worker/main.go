// Command worker runs one Worker Node: it pulls encrypted execution
// requests off the shared queue, runs them up to its configured capacity,
// publishes per-step events, and reacts to control-plane commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/workernode/internal/bridge"
	"github.com/ocx/workernode/internal/config"
	"github.com/ocx/workernode/internal/cryptobox"
	"github.com/ocx/workernode/internal/intake"
	"github.com/ocx/workernode/internal/lifecycle"
	"github.com/ocx/workernode/internal/metrics"
	"github.com/ocx/workernode/internal/poisonwindow"
	"github.com/ocx/workernode/internal/publisher"
	"github.com/ocx/workernode/internal/registry"
	"github.com/ocx/workernode/internal/scheduler"
	"github.com/ocx/workernode/internal/store"
	"github.com/ocx/workernode/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to worker config YAML")
	dsn := flag.String("postgres-dsn", "", "Postgres DSN for saved-workflow persistence (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("worker: load config failed", "error", err)
		return 1
	}

	stack := lifecycle.NewStack()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The worker owns client.key_secret; server.key_secret carries the
	// server's public half in the same fixed-width layout.
	ourKeys, err := cryptobox.LoadKeyPair(cfg.KeysPath, "client")
	if err != nil {
		slog.Error("worker: load key pair failed", "error", err)
		return 1
	}
	serverPublic, err := cryptobox.LoadPeerPublicKey(cfg.KeysPath, "server")
	if err != nil {
		slog.Error("worker: load server public key failed", "error", err)
		return 1
	}

	identity := fmt.Sprintf("Worker-%s", cfg.ID)
	redisClient, err := transport.NewClient(cfg.Queue.Addr, cfg.Queue.Password, cfg.Queue.DB, identity)
	if err != nil {
		slog.Error("worker: connect transport failed", "error", err)
		return 1
	}
	stack.Push(func(context.Context) error { return redisClient.Close() })

	requestQueue := redisClient.NewRequestQueue(cfg.Queue.Key)
	controlChannel := redisClient.NewControlChannel(cfg.ControlAddress)
	resultsChannel := redisClient.NewResultsChannel(cfg.ResultsAddress)

	var savedWorkflows scheduler.SnapshotStore
	if *dsn != "" {
		st, err := store.Open(*dsn)
		if err != nil {
			slog.Error("worker: connect saved-workflow store failed", "error", err)
			return 1
		}
		stack.Push(func(context.Context) error { return st.Close() })
		savedWorkflows = st
	}

	reg := registry.New(cfg.Capacity)
	metrics.RegistryCapacity.Set(float64(cfg.Capacity))

	cache := bridge.NewSubscriptionCache()
	pub := publisher.New(resultsChannel, 256, cfg.Tunables.PublishTimeout, serverPublic, &ourKeys.Private)
	stack.Push(func(context.Context) error { pub.Stop(); return nil })

	poison := poisonwindow.New(cfg.Tunables.PoisonWindow, cfg.Tunables.PoisonWindowPeriod)

	requestIntake := intake.NewRequestIntake(requestQueue, serverPublic, &ourKeys.Private, cfg.Tunables.PollTimeout)

	sched := scheduler.New(requestIntake, loaderStub{}, runnerStub{}, reg, savedWorkflows, cache, pub, poison, cfg.Tunables.SchedulerQuantum)
	sched.RequestShutdown = cancel

	controlIntake := intake.NewControlIntake(controlChannel, serverPublic, &ourKeys.Private, sched, cfg.Tunables.ControlJoinTimeout)
	stopControl, err := controlIntake.Start(ctx)
	if err != nil {
		slog.Error("worker: start control intake failed", "error", err)
		return 1
	}
	stack.Push(func(context.Context) error { stopControl(); return nil })

	if cfg.MetricsAddress != "" {
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker: metrics server failed", "error", err)
			}
		}()
		stack.Push(func(ctx context.Context) error { return srv.Shutdown(ctx) })
	}

	go sched.Run(ctx)
	// Pushed last so teardown waits for in-flight workflows first, within
	// the drain deadline, before any socket below it is closed.
	stack.Push(func(ctx context.Context) error { return sched.Drain(ctx) })

	slog.Info("worker: started", "id", cfg.ID, "capacity", cfg.Capacity)

	return lifecycle.Run(ctx, stack, func() (context.Context, context.CancelFunc) {
		cancel()
		return context.WithTimeout(context.Background(), cfg.Tunables.DrainTimeout)
	})
}
