package supervisor

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kgbrelay/kgb/internal/ircsession"
)

// healthServiceName is the service name probed by grpc.health.v1.Health
// (spec.md §4.8) — orchestrators check serving status for "kgb".
const healthServiceName = "kgb"

// SessionsReporter reports the live connection state of every network the
// Hub currently holds a session for. internal/ircsession.Hub satisfies
// this via its existing Sessions method.
type SessionsReporter interface {
	Sessions() map[string]ircsession.State
}

// HealthService runs the gRPC grpc.health.v1 health-checking service
// SPEC_FULL.md §4.8 describes: no custom proto, just the ready-made
// health.Server wired to a background poll of the Hub's session states.
// Serving status for "kgb" flips to NOT_SERVING as soon as graceful
// shutdown begins, SERVING once every configured network has reached
// StateJoined at least once since boot or the last reload.
type HealthService struct {
	srv      *health.Server
	grpcSrv  *grpc.Server
	sessions SessionsReporter
	stopPoll chan struct{}

	mu     sync.Mutex
	wanted map[string]bool
	joined map[string]bool
}

// NewHealthService builds a HealthService reporting NOT_SERVING until
// Reconciled and a subsequent poll observe every network joined.
func NewHealthService(sessions SessionsReporter) *HealthService {
	hs := &HealthService{
		srv:      health.NewServer(),
		sessions: sessions,
		wanted:   make(map[string]bool),
		joined:   make(map[string]bool),
	}
	hs.srv.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Serve starts the gRPC listener in a background goroutine. A listen
// failure is logged, not fatal — /healthz still works without this.
func (hs *HealthService) Serve(addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("supervisor: grpc health listen failed", "addr", addr, "error", err)
		return
	}
	hs.grpcSrv = grpc.NewServer()
	healthpb.RegisterHealthServer(hs.grpcSrv, hs.srv)

	hs.stopPoll = make(chan struct{})
	go hs.pollJoins()

	go func() {
		slog.Info("supervisor: grpc health service listening", "addr", addr)
		if err := hs.grpcSrv.Serve(lis); err != nil {
			slog.Warn("supervisor: grpc health server error", "error", err)
		}
	}()
}

// Reconciled resets the "joined at least once" latch to the given set of
// configured networks, called on boot and after every successful HUP
// reload (spec.md §4.8 "after boot or reload").
func (hs *HealthService) Reconciled(networks []string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.wanted = make(map[string]bool, len(networks))
	for _, n := range networks {
		hs.wanted[n] = true
	}
	hs.joined = make(map[string]bool, len(networks))
	hs.srv.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// ShuttingDown flips serving status to NOT_SERVING immediately, called at
// the start of graceful shutdown (spec.md §4.8).
func (hs *HealthService) ShuttingDown() {
	hs.srv.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Stop marks the service NOT_SERVING, halts the join poll, and gracefully
// stops the gRPC server. Safe to call even if Serve was never started.
func (hs *HealthService) Stop() {
	hs.ShuttingDown()
	if hs.stopPoll != nil {
		close(hs.stopPoll)
	}
	if hs.grpcSrv != nil {
		hs.grpcSrv.GracefulStop()
	}
}

func (hs *HealthService) pollJoins() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-hs.stopPoll:
			return
		case <-ticker.C:
			hs.checkJoins()
		}
	}
}

func (hs *HealthService) checkJoins() {
	if hs.sessions == nil {
		return
	}
	states := hs.sessions.Sessions()

	hs.mu.Lock()
	defer hs.mu.Unlock()
	for name, st := range states {
		if hs.wanted[name] && st == ircsession.StateJoined {
			hs.joined[name] = true
		}
	}
	if len(hs.wanted) == 0 {
		return
	}
	for name := range hs.wanted {
		if !hs.joined[name] {
			return
		}
	}
	hs.srv.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)
}
