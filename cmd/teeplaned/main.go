// Command teeplaned runs the in-memory control plane core: the resource
// store, the placement engine, and the reconciliation fabric, wired
// together and exposed to external collaborators through the facade port
// contracts. Transport, auth, encryption, and HA replication are all
// external collaborators and are not implemented here.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/teeplane/pkg/config"
	"github.com/cuemby/teeplane/pkg/facade"
	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/placement"
	"github.com/cuemby/teeplane/pkg/reconciler"
	"github.com/cuemby/teeplane/pkg/store"
	"github.com/cuemby/teeplane/pkg/types"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "teeplaned: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.Init(log.Config{
		Level:      log.Level(envOr("TEEPLANE_LOG_LEVEL", "info")),
		JSONOutput: envOr("TEEPLANE_LOG_JSON", "true") == "true",
	})
	logger := log.WithComponent("teeplaned")
	logger.Info().Str("version", Version).Str("commit", Commit).Str("built", BuildTime).Msg("starting teeplane")

	cfg, err := config.Load(os.Getenv("TEEPLANE_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s := store.New(cfg.ToStoreConfig())

	nodeSource := &storeNodeSource{store: s}
	engine := placement.New(nodeSource, cfg.ToPlacementConfig())

	recon := reconciler.New(cfg.ToReconcilerConfig())
	recon.Register(&changeDrivenController{kinds: []string{"pods", "services", "configmaps"}})

	invalidator := facade.NewCacheInvalidator()
	adapter := facade.NewStoreAdapter(s)
	httpSrv := facade.NewServer(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start(ctx)
	defer engine.Stop()

	recon.Start(ctx)
	defer recon.Stop()

	collector := metrics.NewCollector(s, engine, recon, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	for _, kind := range []string{"pods", "services", "configmaps"} {
		go watchAndReconcile(ctx, s, recon, kind)
	}
	go func() { _ = invalidator.Run(ctx, s, "pods") }()

	metricsAddr := envOr("TEEPLANE_METRICS_ADDR", "127.0.0.1:9090")
	verbAddr := envOr("TEEPLANE_HTTP_ADDR", "127.0.0.1:8080")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/health", healthHandler(s))
	metricsMux.HandleFunc("/ready", readyHandler(s))
	metricsMux.HandleFunc("/live", livenessHandler())

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	verbServer := &http.Server{Addr: verbAddr, Handler: httpSrv}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", verbAddr).Msg("verb surface server listening")
		if err := verbServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("verb surface server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = verbServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()

	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func healthHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           "ok",
			"cluster_version":  s.ClusterVersion(),
			"change_ring_size": s.ChangeRingSize(),
		})
	}
}

func readyHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive"))
	}
}

// storeNodeSource adapts the resource store into a placement.NodeSource by
// reading back "nodes" kind resources, the way the teacher's scheduler read
// node state out of its manager's raft-backed store.
type storeNodeSource struct {
	store *store.Store
}

func (n *storeNodeSource) ListNodes(ctx context.Context) ([]types.NodeCacheEntry, error) {
	resources, _, err := n.store.List(ctx, "nodes", types.Filter{})
	if err != nil {
		return nil, err
	}

	entries := make([]types.NodeCacheEntry, 0, len(resources))
	for _, res := range resources {
		var entry types.NodeCacheEntry
		if err := json.Unmarshal(res.Payload, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// changeDrivenController is a minimal Controller that logs every
// reconciliation it receives; real controllers are registered by the
// embedding application.
type changeDrivenController struct {
	kinds []string
}

func (c *changeDrivenController) Name() string    { return "change-driven" }
func (c *changeDrivenController) Kinds() []string { return c.kinds }

func (c *changeDrivenController) Reconcile(ctx context.Context, record types.ReconciliationRecord) reconciler.Outcome {
	logger := log.WithComponent("change-driven")
	logger.Debug().
		Str("resource_key", record.ResourceKey.String()).
		Str("event", string(record.EventKind)).
		Msg("reconciled")
	return reconciler.Success()
}

// watchAndReconcile bridges the store's change stream into reconciler
// enqueues for one kind, translating each ChangeEvent into a
// ReconciliationRecord at Normal priority.
func watchAndReconcile(ctx context.Context, s *store.Store, recon *reconciler.Reconciler, kind string) {
	handle, err := s.Watch(ctx, kind, "", 0)
	if err != nil {
		logger := log.WithComponent("teeplaned")
		logger.Error().Err(err).Str("kind", kind).Msg("failed to start reconciliation watch")
		return
	}
	defer handle.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-handle.Events:
			if !ok {
				return
			}
			recon.Enqueue(types.ReconciliationRecord{
				Kind:            ev.Kind,
				ResourceKey:     ev.Key(),
				EventKind:       types.ReconcileOnChange,
				PayloadSnapshot: ev.NewPayload,
				Priority:        types.PriorityNormal,
			})
		}
	}
}
