// Package supervisor wires OS signals to the relay's lifecycle: graceful
// shutdown, self-restart, and config reload (spec.md §4.8).
package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kgbrelay/kgb/internal/config"
)

// SessionStopper tears down every IRC session with a QUIT reason.
// internal/ircsession.Hub satisfies this.
type SessionStopper interface {
	StopAll(reason string)
}

// Reconciler brings IRC sessions in line with the current config.
// internal/ircsession.Hub satisfies this alongside SessionStopper.
type Reconciler interface {
	Reconcile(cfg *config.Config)
}

const quitReason = "KGB going to drink vodka"

// Options configures the Supervisor.
type Options struct {
	Manager     *config.Manager
	HTTPServer  *http.Server // the RPC ingress server; Shutdown is called on it
	Sessions    SessionStopper
	Reconciler  Reconciler
	Health      *HealthService // gRPC health service (spec.md §4.8); nil disables the hook
	ConfigPath  string        // needed to exec-replace on restart
	ShutdownWait time.Duration // bound on flushing pending IRC sends; default 2s
}

// Supervisor owns the process's signal handling loop.
type Supervisor struct {
	opts     Options
	shutdown chan os.Signal
	reload   chan os.Signal
	restart  chan os.Signal

	shuttingDown bool
}

// New builds a Supervisor. Call Run to block and handle signals.
func New(opts Options) *Supervisor {
	if opts.ShutdownWait == 0 {
		opts.ShutdownWait = 2 * time.Second
	}
	s := &Supervisor{
		opts:     opts,
		shutdown: make(chan os.Signal, 2),
		reload:   make(chan os.Signal, 1),
		restart:  make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	signal.Notify(s.reload, syscall.SIGHUP)
	signal.Notify(s.restart, syscall.SIGQUIT)
	return s
}

// Run blocks, dispatching signals, until a graceful shutdown completes or a
// second shutdown signal forces immediate exit. It never returns on the
// restart path — a successful QUIT replaces the process image.
func (s *Supervisor) Run() {
	for {
		select {
		case <-s.shutdown:
			if s.shuttingDown {
				slog.Warn("supervisor: second shutdown signal, forcing immediate exit")
				os.Exit(1)
			}
			s.shuttingDown = true
			s.gracefulShutdown()
			os.Exit(0)

		case <-s.restart:
			slog.Info("supervisor: restart requested")
			s.shuttingDown = true
			s.gracefulShutdown()
			s.execReplace()
			// execReplace only returns on error
			os.Exit(1)

		case <-s.reload:
			s.handleReload()
		}
	}
}

// gracefulShutdown stops accepting RPC, QUITs every IRC session with the
// spec-mandated reason, and then waits opts.ShutdownWait for sends to
// flush (spec.md §4.8 "INT/TERM").
func (s *Supervisor) gracefulShutdown() {
	slog.Info("supervisor: shutting down gracefully")
	if s.opts.Health != nil {
		s.opts.Health.Stop()
	}
	if s.opts.HTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownWait)
		defer cancel()
		if err := s.opts.HTTPServer.Shutdown(ctx); err != nil {
			slog.Warn("supervisor: http shutdown error", "error", err)
		}
	}
	if s.opts.Sessions != nil {
		s.opts.Sessions.StopAll(quitReason)
	}
	time.Sleep(s.opts.ShutdownWait)
}

// execReplace implements the QUIT restart path: replace the process image
// with the same binary invoked --foreground --config <path>, so the
// supervising init can restart the daemon without a race window where no
// process is listening (spec.md §4.8 "QUIT").
func (s *Supervisor) execReplace() {
	exe, err := os.Executable()
	if err != nil {
		slog.Error("supervisor: cannot resolve executable for restart", "error", err)
		return
	}
	args := []string{exe, "--foreground", "--config", s.opts.ConfigPath}
	if err := syscall.Exec(exe, args, os.Environ()); err != nil {
		slog.Error("supervisor: exec-replace failed", "error", err)
	}
}

// handleReload implements HUP: re-read the config file. A changed RPC bind
// (addr/port/service_name) forces a full restart via the QUIT path since
// the listening socket can't be swapped in place; anything else is an
// atomic config pointer swap followed by IRC hub reconciliation
// (spec.md §4.8 "HUP").
func (s *Supervisor) handleReload() {
	prev := s.opts.Manager.Current()
	diff, err := s.opts.Manager.Reload()
	if err != nil {
		slog.Error("supervisor: config reload failed, keeping previous config", "error", err)
		return
	}

	next := s.opts.Manager.Current()
	if rpcBindChanged(prev, next) {
		slog.Info("supervisor: RPC bind changed, forcing restart")
		s.restart <- syscall.SIGQUIT
		return
	}

	slog.Info("supervisor: config reloaded", "networks_added", len(diff.NetworksAdded),
		"networks_removed", len(diff.NetworksRemoved), "networks_changed", len(diff.NetworksChanged))
	if s.opts.Reconciler != nil {
		s.opts.Reconciler.Reconcile(next)
	}
	if s.opts.Health != nil {
		s.opts.Health.Reconciled(networkNames(next))
	}
}

func networkNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	return names
}

func rpcBindChanged(prev, next *config.Config) bool {
	return prev.Global.RPCAddr != next.Global.RPCAddr ||
		prev.Global.RPCPort != next.Global.RPCPort ||
		prev.Global.ServiceName != next.Global.ServiceName
}
