// Package ingress exposes the RPC ingress (C4): the single HTTP endpoint
// VCS hooks call to submit a commit for relay (spec.md §4.3).
package ingress

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kgbrelay/kgb/internal/circuitbreaker"
	"github.com/kgbrelay/kgb/internal/config"
	"github.com/kgbrelay/kgb/internal/events"
	"github.com/kgbrelay/kgb/internal/fanout"
	"github.com/kgbrelay/kgb/internal/formatter"
	"github.com/kgbrelay/kgb/internal/metrics"
	"github.com/kgbrelay/kgb/internal/middleware"
	"github.com/kgbrelay/kgb/internal/wire"
)

var errAuth = errors.New("authentication failed")

// QueueDepther reports the current IRC send backlog across every session,
// for admission control (spec.md §4.3 step 3). internal/ircsession.Hub
// satisfies this.
type QueueDepther interface {
	QueueDepth() int
}

// Server is the RPC ingress HTTP handler.
type Server struct {
	manager  *config.Manager
	breakers *circuitbreaker.RelayCircuitBreakers
	queue    QueueDepther
	fanout   *fanout.Fanout
	bus      events.EventEmitter
	limiter  *middleware.RateLimiter
}

// New builds a Server. queue and fo's Sink are typically backed by the
// same internal/ircsession.Hub.
func New(manager *config.Manager, breakers *circuitbreaker.RelayCircuitBreakers, queue QueueDepther, fo *fanout.Fanout, bus events.EventEmitter) *Server {
	return &Server{
		manager:  manager,
		breakers: breakers,
		queue:    queue,
		fanout:   fo,
		bus:      bus,
		limiter:  middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: 120, BurstSize: 240}), // generous per-repo burst; queue_limit is the real backstop
	}
}

// Router builds the mux.Router exposing "commit" at
// /?session={service_name} (spec.md §6).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleCommit).Methods("POST")
	return r
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req wire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, wire.FaultResponse(wire.NewArgumentsFault("malformed request body: %v", err)))
		return
	}
	if req.Method != "commit" {
		s.reply(w, wire.FaultResponse(wire.NewArgumentsFault("unknown method %q", req.Method)))
		return
	}

	cfg := s.manager.Current()

	version, rest := wire.DiscriminateVersion(req.Args)
	if version < cfg.Global.MinProtocolVersion || version > 2 {
		s.reject(w, "", version, wire.NewArgumentsFault("protocol version %d not accepted (min %d)", version, cfg.Global.MinProtocolVersion))
		return
	}

	args, fault := wire.ParseCommitArgs(version, rest)
	if fault != nil {
		s.reject(w, "", version, fault)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(args.RepoID) {
		s.reject(w, args.RepoID, version, wire.NewSlowdownFault("rate limit exceeded for repository %q", args.RepoID))
		return
	}

	if s.breakers != nil {
		if err := s.breakers.Ingress.Allow(); err != nil {
			s.reject(w, args.RepoID, version, wire.NewSlowdownFault("ingress circuit open: %v", err))
			return
		}
	}
	if s.queue != nil && cfg.Global.QueueLimit > 0 && s.queue.QueueDepth() >= cfg.Global.QueueLimit {
		s.reject(w, args.RepoID, version, wire.NewSlowdownFault("send queue at capacity (%d)", cfg.Global.QueueLimit))
		return
	}

	repo, ok := cfg.Repositories[args.RepoID]
	if !ok {
		s.reject(w, args.RepoID, version, wire.NewArgumentsFault("unknown repository %q", args.RepoID))
		return
	}

	if err := s.authenticate(repo, args); err != nil {
		s.rejectWithOutcome(w, args.RepoID, version, wire.NewArgumentsFault("%v", err), "rejected_auth")
		return
	}

	utf8Fields := []struct{ name, val string }{
		{"repo_id", args.RepoID}, {"revision", args.Revision}, {"log", args.Log}, {"author", args.Author},
	}
	if args.Branch != nil {
		utf8Fields = append(utf8Fields, struct{ name, val string }{"branch", *args.Branch})
	}
	if args.Module != nil {
		utf8Fields = append(utf8Fields, struct{ name, val string }{"module", *args.Module})
	}
	for i, c := range args.Changes {
		utf8Fields = append(utf8Fields, struct{ name, val string }{fmt.Sprintf("changes[%d]", i), c})
	}
	for _, field := range utf8Fields {
		if err := wire.EnsureUTF8(field.name, field.val); err != nil {
			s.reject(w, args.RepoID, version, wire.NewArgumentsFault("%v", err))
			return
		}
	}

	channels := cfg.ChannelsFor(args.RepoID)
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = c.Channel
	}

	lines, err := formatter.Format(formatter.Input{
		RepoID:    args.RepoID,
		RevPrefix: args.RevPrefix,
		Revision:  args.Revision,
		Changes:   args.Changes,
		Log:       args.Log,
		Author:    args.Author,
		Branch:    args.Branch,
		Module:    args.Module,
	}, names, formatter.DefaultPalette, cfg.Global.Colors)
	if err != nil {
		s.reject(w, args.RepoID, version, wire.NewArgumentsFault("%v", err))
		return
	}

	result := s.fanout.Deliver(cfg, args.RepoID, lines)
	metrics.IngressRequestsTotal.WithLabelValues(args.RepoID, "accepted").Inc()
	if s.bus != nil {
		s.bus.Emit(events.TypeIngressAccepted, "ingress", args.RepoID, map[string]interface{}{
			"delivered":  result.Delivered,
			"suppressed": result.Suppressed,
		})
	}
	s.reply(w, wire.OK("OK"))
}

func (s *Server) authenticate(repo config.RepositoryConfig, args *wire.CommitArgs) error {
	switch args.Version {
	case 0:
		if repo.Password == "" {
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(repo.Password), []byte(args.Password)) != 1 {
			return errAuth
		}
		return nil
	default:
		expected := wire.Checksum(args.RepoID, args.Revision, args.Changes, args.Log, args.Author, args.Branch, args.Module, repo.Password)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(args.Checksum)) != 1 {
			return errAuth
		}
		return nil
	}
}

func (s *Server) reject(w http.ResponseWriter, repoID string, version int, fault *wire.Fault) {
	outcome := "rejected_args"
	if fault.Code == wire.FaultSlowdown {
		outcome = "rejected_slowdown"
	}
	s.rejectWithOutcome(w, repoID, version, fault, outcome)
}

func (s *Server) rejectWithOutcome(w http.ResponseWriter, repoID string, version int, fault *wire.Fault, outcome string) {
	metrics.IngressRequestsTotal.WithLabelValues(repoID, outcome).Inc()
	if s.bus != nil {
		s.bus.Emit(events.TypeIngressRejected, "ingress", repoID, map[string]interface{}{
			"reason": fault.FaultString, "code": string(fault.Code),
		})
	}
	slog.Debug("ingress: rejected", "repo_id", repoID, "version", version, "fault", fault.Error())
	s.reply(w, wire.FaultResponse(fault))
}

func (s *Server) reply(w http.ResponseWriter, resp wire.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
