// Package kgbclient implements the client failover driver (C3): given a
// commit and a set of candidate KGB servers, it shuffles them, prefers the
// last server that succeeded, and retries down the list on failure
// (spec.md §4.1).
package kgbclient

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/kgbrelay/kgb/internal/commit"
	"github.com/kgbrelay/kgb/pkg/kgbclient"
)

// Caller is the single-server RPC primitive the driver retries across.
// *kgbclient.Client satisfies this.
type Caller interface {
	Commit(ctx context.Context, repoID, revPrefix string, cm commit.Commit) error
}

// CallerFactory builds a Caller for one ServerRef; production callers pass
// kgbclient.New, tests substitute a fake.
type CallerFactory func(ref kgbclient.ServerRef) Caller

// Driver owns the sticky-last-good-server state across invocations
// (spec.md §4.1 step 2 "Rationale: stickiness gives temporal locality").
type Driver struct {
	mu      sync.Mutex
	servers []kgbclient.ServerRef
	build   CallerFactory
	lastURI string
	logger  *log.Logger
}

// New builds a Driver over the given candidate servers (at least one).
// Pass nil for build to use the default kgbclient.New-backed factory.
func New(servers []kgbclient.ServerRef, build CallerFactory) *Driver {
	if build == nil {
		build = func(ref kgbclient.ServerRef) Caller { return kgbclient.New(ref) }
	}
	return &Driver{
		servers: servers,
		build:   build,
		logger:  log.New(log.Writer(), "[kgbclient] ", log.LstdFlags),
	}
}

// Send implements the failover algorithm of spec.md §4.1:
//  1. uniformly random permutation of the configured servers
//  2. the previous invocation's successful server, if any, moved to front
//  3. try each in order with its configured timeout; first success wins and
//     is remembered as sticky
//  4. every failure is logged and the next server tried
//  5. if all fail, the caller gets a non-nil error (fatal, per spec.md §4.1 step 5)
func (d *Driver) Send(ctx context.Context, repoID, revPrefix string, cm commit.Commit) error {
	if len(d.servers) == 0 {
		return fmt.Errorf("kgbclient: no servers configured")
	}

	order := d.order()

	var errs []string
	for _, ref := range order {
		caller := d.build(ref)
		err := caller.Commit(ctx, repoID, revPrefix, cm)
		if err == nil {
			d.mu.Lock()
			d.lastURI = ref.URI
			d.mu.Unlock()
			return nil
		}
		d.logger.Printf("server %s failed: %v", ref.URI, err)
		errs = append(errs, fmt.Sprintf("%s: %v", ref.URI, err))
	}

	return fmt.Errorf("kgbclient: all %d server(s) failed: %s", len(order), strings.Join(errs, "; "))
}

// order returns a random permutation of d.servers with the sticky server,
// if any, moved to the front.
func (d *Driver) order() []kgbclient.ServerRef {
	d.mu.Lock()
	sticky := d.lastURI
	d.mu.Unlock()

	shuffled := make([]kgbclient.ServerRef, len(d.servers))
	copy(shuffled, d.servers)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	if sticky == "" {
		return shuffled
	}
	for i, ref := range shuffled {
		if ref.URI == sticky {
			shuffled[0], shuffled[i] = shuffled[i], shuffled[0]
			break
		}
	}
	return shuffled
}
