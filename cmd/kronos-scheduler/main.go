// Command kronos-scheduler boots the scheduling core: it wires a TaskStore,
// a queue Producer/Consumer pair, and the Scheduler monitor together, then
// serves /health and /stats while the scheduler's poll and purge loops run
// in the background.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/rajgiridhar1995/kronos/internal/logging"
	"github.com/rajgiridhar1995/kronos/internal/otelinit"
	"github.com/rajgiridhar1995/kronos/internal/queue"
	"github.com/rajgiridhar1995/kronos/internal/queue/memqueue"
	"github.com/rajgiridhar1995/kronos/internal/queue/natsqueue"
	"github.com/rajgiridhar1995/kronos/internal/resilience"
	"github.com/rajgiridhar1995/kronos/internal/scheduler"
	"github.com/rajgiridhar1995/kronos/internal/store"
	"github.com/rajgiridhar1995/kronos/internal/store/boltstore"
	"github.com/rajgiridhar1995/kronos/internal/store/memstore"
	"github.com/rajgiridhar1995/kronos/internal/task"
	"github.com/rajgiridhar1995/kronos/internal/timeoutmgr"
)

const serviceName = "kronos-scheduler"

func main() {
	logger := logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, m := otelinit.InitMetrics(ctx, serviceName)

	taskStore, closeStore, err := openStore(logger, m.Meter)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// The queue pair's Close is called by sched.Stop during the shutdown
	// sequence below, not deferred here — the Scheduler owns their lifecycle
	// once Start succeeds.
	producer, consumer, _, err := openQueue(ctx, logger)
	if err != nil {
		logger.Error("queue init failed", "error", err)
		os.Exit(1)
	}

	namespaces, _ := taskStore.(store.NamespaceService)

	cfg := scheduler.Config{
		StatusQueueName:    envOr("KRONOS_STATUS_QUEUE", "taskStatusQueue"),
		PurgeInterval:      envDuration("KRONOS_PURGE_INTERVAL", time.Hour),
		StatusPollInterval: envDuration("KRONOS_STATUS_POLL_INTERVAL", 2*time.Second),
		Clock:              timeoutmgr.RealClock{},
	}
	sched := scheduler.New(cfg, taskStore, namespaces, producer, consumer, m.Meter, logger)

	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sched.Stats())
	})
	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var t task.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := sched.Submit(r.Context(), &t); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	addr := envOr("KRONOS_HTTP_ADDR", ":8080")
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()
	logger.Info("kronos-scheduler started", "addr", addr)

	<-ctx.Done()
	logger.Info("shutdown initiated")

	ctxSd, cancelSd := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSd()
	_ = srv.Shutdown(ctxSd)
	_ = sched.Stop(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	logger.Info("shutdown complete")
}

// openStore selects a TaskStore driver from KRONOS_STORE_DRIVER ("bolt" the
// default, or "mem" for ephemeral single-process runs).
func openStore(logger *slog.Logger, meter metric.Meter) (store.TaskStore, func(), error) {
	driver := envOr("KRONOS_STORE_DRIVER", "bolt")
	switch driver {
	case "mem":
		logger.Info("using in-memory task store")
		return memstore.New(), func() {}, nil
	case "bolt":
		path := envOr("KRONOS_BOLT_PATH", "./data")
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, nil, fmt.Errorf("create bolt path: %w", err)
		}
		s, err := boltstore.Open(path, meter)
		if err != nil {
			return nil, nil, fmt.Errorf("open boltstore: %w", err)
		}
		logger.Info("using boltstore", "path", path)
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown KRONOS_STORE_DRIVER %q", driver)
	}
}

// openQueue selects a queue driver from KRONOS_QUEUE_DRIVER ("nats" the
// default, or "mem" for single-process/test deployments). The NATS dial is
// wrapped in resilience.Bootstrap so a broker that is still starting up
// doesn't fail the whole process.
func openQueue(ctx context.Context, logger *slog.Logger) (queue.Producer, queue.Consumer, func(), error) {
	driver := envOr("KRONOS_QUEUE_DRIVER", "nats")
	switch driver {
	case "mem":
		logger.Info("using in-memory queue")
		q := memqueue.New()
		return q, q, func() { _ = q.Close() }, nil
	case "nats":
		url := envOr("KRONOS_NATS_URL", "nats://127.0.0.1:4222")
		var q *natsqueue.Queue
		err := resilience.Bootstrap(ctx, "nats", func() error {
			var dialErr error
			q, dialErr = natsqueue.Connect(url)
			return dialErr
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		logger.Info("using natsqueue", "url", url)
		return q, q, func() { _ = q.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown KRONOS_QUEUE_DRIVER %q", driver)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
