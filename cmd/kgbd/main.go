// Command kgbd is the KGB relay daemon: it accepts RPC commit
// notifications and fans them out to IRC channels (spec.md §1).
//
// Wiring style follows the teacher's cmd/api/main.go: config loaded up
// front, each subsystem constructed and wired by hand in main, Redis
// infrastructure attached with a graceful log-and-fall-back-to-in-memory
// path rather than a hard failure, then router + signal handling.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kgbrelay/kgb/internal/adminweb"
	"github.com/kgbrelay/kgb/internal/audit"
	"github.com/kgbrelay/kgb/internal/circuitbreaker"
	"github.com/kgbrelay/kgb/internal/config"
	"github.com/kgbrelay/kgb/internal/events"
	"github.com/kgbrelay/kgb/internal/fanout"
	"github.com/kgbrelay/kgb/internal/ingress"
	"github.com/kgbrelay/kgb/internal/ircsession"
	"github.com/kgbrelay/kgb/internal/supervisor"
)

// sinkFunc adapts a plain function to fanout.Sink, letting us close over
// a *ircsession.Hub variable before the Hub itself exists — Hub needs
// Fanout's ResetNetwork/ObserveChannelTraffic at construction, and Fanout
// needs Hub's Enqueue, so one side has to be built behind an indirection.
type sinkFunc func(network, channel string, lines []string)

func (f sinkFunc) Enqueue(network, channel string, lines []string) { f(network, channel, lines) }

func main() {
	configPath := flag.String("config", "/etc/kgb/kgb.yaml", "path to the relay's YAML config file")
	foreground := flag.Bool("foreground", false, "run in the foreground (set automatically on supervisor-triggered restart)")
	flag.Parse()
	_ = foreground // the daemon always runs in the foreground under its process supervisor

	manager, err := config.NewManager(*configPath)
	if err != nil {
		slog.Error("kgbd: failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg := manager.Current()

	if cfg.Global.PIDFile != "" {
		if err := os.WriteFile(cfg.Global.PIDFile, []byte(formatPID()), 0o644); err != nil {
			slog.Warn("kgbd: failed to write pid file", "path", cfg.Global.PIDFile, "error", err)
		}
	}

	// Operational event bus (SPEC_FULL.md §4.12). Pub/Sub publishing is
	// optional, durable fan-out on top of the same in-memory bus that the
	// audit logger subscribes to (the admin feed is handed its events
	// directly, not through this bus) — never the commit content itself,
	// which always flows through internal/fanout.
	var bus events.EventEmitter
	var coreBus *events.EventBus
	if cfg.Global.PubSubEnabled {
		psb, err := events.NewPubSubEventBus(cfg.Global.PubSubProjectID, cfg.Global.PubSubTopicID)
		if err != nil {
			slog.Warn("kgbd: pubsub event bus unavailable, falling back to in-memory only", "error", err)
			coreBus = events.NewEventBus()
			bus = coreBus
		} else {
			defer psb.Close()
			bus = psb
			coreBus = psb.EventBus
		}
	} else {
		coreBus = events.NewEventBus()
		bus = coreBus
	}

	feed := adminweb.NewHub()
	go feed.Run()

	breakers := circuitbreaker.NewRelayCircuitBreakers()

	var hub *ircsession.Hub
	fo := fanout.New(sinkFunc(func(network, channel string, lines []string) {
		hub.Enqueue(network, channel, lines)
	}), feed)
	hub = ircsession.NewHub(breakers, bus, feed, fo.ResetNetwork, fo.ObserveChannelTraffic)

	// Redis infrastructure — reconnect-backoff persistence (SPEC_FULL.md
	// §4.9). Optional: a failed connection falls back to in-memory-only
	// backoff, matching the teacher's Redis-enabled/disabled branch in
	// cmd/api/main.go rather than treating it as fatal.
	if cfg.Global.RedisAddr != "" {
		adapter, err := ircsession.NewGoRedisAdapter(cfg.Global.RedisAddr, "", 0)
		if err != nil {
			slog.Warn("kgbd: redis connection failed, reconnect backoff will reset on restart", "addr", cfg.Global.RedisAddr, "error", err)
		} else {
			defer adapter.Close()
			hub.SetBackoffStore(ircsession.NewRedisStore(adapter, "kgb:backoff:", 10*time.Minute))
			slog.Info("kgbd: redis-backed reconnect backoff store wired in")
		}
	}

	// Audit log (SPEC_FULL.md §4.10). Empty DSN makes the logger a no-op.
	auditStore, err := audit.OpenPostgresStore(cfg.Global.AuditDSN)
	if err != nil {
		slog.Warn("kgbd: audit store unavailable, audit logging disabled", "error", err)
		auditStore = nil
	}
	// Hand over only a live store: a nil *PostgresStore wrapped in the
	// Store interface would not compare equal to nil inside the Logger.
	var auditSink audit.Store
	if auditStore != nil {
		auditSink = auditStore
	}
	auditLogger := audit.NewLogger(auditSink)
	auditLogger.Start(coreBus)
	defer auditLogger.Stop()

	hub.Reconcile(cfg)

	health := supervisor.NewHealthService(hub)
	health.Serve(cfg.Global.GRPCHealthAddr)
	health.Reconciled(networkNames(cfg))

	rpcServer := ingress.New(manager, breakers, hub, fo, bus)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Global.RPCAddr, cfg.Global.RPCPort),
		Handler: rpcServer.Router(),
	}

	var adminServer *http.Server
	if cfg.Global.AdminHTTPAddr != "" {
		adminMux := http.NewServeMux()
		adminMux.Handle("/metrics", promhttp.Handler())
		adminMux.HandleFunc("/admin/feed", feed.HandleWebSocket)
		adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			status, breakerStatus := breakers.HealthStatus()
			w.Header().Set("Content-Type", "application/json")
			if status != "HEALTHY" {
				w.WriteHeader(http.StatusServiceUnavailable)
			} else {
				w.WriteHeader(http.StatusOK)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":           status,
				"circuit_breakers": breakerStatus,
			})
		})
		adminServer = &http.Server{Addr: cfg.Global.AdminHTTPAddr, Handler: adminMux}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("kgbd: admin http server error", "error", err)
			}
		}()
	}

	sup := supervisor.New(supervisor.Options{
		Manager:    manager,
		HTTPServer: httpServer,
		Sessions:   hub,
		Reconciler: hub,
		Health:     health,
		ConfigPath: *configPath,
	})

	go func() {
		slog.Info("kgbd: rpc ingress listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("kgbd: rpc server error", "error", err)
		}
	}()

	sup.Run() // blocks; exits the process itself (os.Exit or exec-replace)
}

func formatPID() string {
	return strconv.Itoa(os.Getpid())
}

func networkNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	return names
}
