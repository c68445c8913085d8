// Package kgbclient is the embeddable client SDK for submitting a commit
// to a KGB relay server over the RPC wire protocol (spec.md §4.1, §4.2).
//
// Quick start:
//
//	c := kgbclient.New(kgbclient.ServerRef{
//	    URI:      "kgb1.example.com",
//	    Password: "s3cret",
//	})
//	err := c.Commit(ctx, "myrepo", "", commit.Commit{ID: "a1b2c3d", Author: "alice", Log: "fix bug"})
package kgbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kgbrelay/kgb/internal/commit"
	"github.com/kgbrelay/kgb/internal/wire"
)

// ServerRef identifies one candidate KGB server (spec.md §3 "ServerRef").
type ServerRef struct {
	URI      string        // logical identity, used for auth/error reports
	Proxy    string        // actual HTTP endpoint; defaults to uri+"?session=KGB"
	Password string        // mandatory
	Timeout  time.Duration // default 15s
	Verbose  bool
}

func (s ServerRef) endpoint() string {
	if s.Proxy != "" {
		return s.Proxy
	}
	return s.URI + "?session=KGB"
}

func (s ServerRef) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 15 * time.Second
}

// Client submits commits to a KGB server using the v2 wire protocol
// (checksum auth, rev_prefix support).
type Client struct {
	ref        ServerRef
	httpClient *http.Client
	onVerbose  func(format string, args ...interface{})
}

// New builds a Client for a single server. For failover across several
// candidate servers, use internal/kgbclient.Driver instead — this type is
// the single-endpoint primitive it's built on.
func New(ref ServerRef) *Client {
	return &Client{
		ref:        ref,
		httpClient: &http.Client{Timeout: ref.timeout()},
	}
}

// OnVerbose installs a logging hook invoked for every call when ref.Verbose
// is set.
func (c *Client) OnVerbose(fn func(format string, args ...interface{})) {
	c.onVerbose = fn
}

// Commit submits one commit under repoID using the v2 wire shape, with an
// optional rev_prefix (Git reflog callers pass "" when there is none).
func (c *Client) Commit(ctx context.Context, repoID, revPrefix string, cm commit.Commit) error {
	if err := cm.Validate(); err != nil {
		return fmt.Errorf("kgbclient: invalid commit: %w", err)
	}

	changes := make([]string, len(cm.Changes))
	for i, ch := range cm.Changes {
		changes[i] = wire.NormalizeClientUTF8(ch.String())
	}
	log := wire.NormalizeClientUTF8(cm.Log)
	author := wire.NormalizeClientUTF8(cm.Author)
	revision := wire.NormalizeClientUTF8(cm.ID)

	var branch, module *string
	if cm.HasBranch() {
		b := wire.NormalizeClientUTF8(cm.Branch)
		branch = &b
	}
	if cm.HasModule() {
		m := wire.NormalizeClientUTF8(cm.Module)
		module = &m
	}

	checksum := wire.Checksum(repoID, revision, changes, log, author, branch, module, c.ref.Password)

	rawChanges := make([]interface{}, len(changes))
	for i, ch := range changes {
		rawChanges[i] = ch
	}
	var brancharg, modulearg interface{}
	if branch != nil {
		brancharg = *branch
	}
	if module != nil {
		modulearg = *module
	}

	args := []interface{}{2, repoID, checksum, revPrefix, revision, rawChanges, log, author, brancharg, modulearg}
	return c.call(ctx, args)
}

func (c *Client) call(ctx context.Context, args []interface{}) error {
	body, err := json.Marshal(wire.Request{Method: "commit", Args: args})
	if err != nil {
		return fmt.Errorf("kgbclient: encode request: %w", err)
	}

	c.logf("POST %s", c.ref.endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ref.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("kgbclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kgbclient: %s: transport error: %w", c.ref.URI, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kgbclient: %s: read response: %w", c.ref.URI, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("kgbclient: %s: HTTP %d: %s", c.ref.URI, resp.StatusCode, raw)
	}

	var rpcResp wire.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("kgbclient: %s: decode response: %w", c.ref.URI, err)
	}
	if rpcResp.FaultCode != "" {
		return fmt.Errorf("kgbclient: %s: %s: %s", c.ref.URI, rpcResp.FaultCode, rpcResp.FaultString)
	}
	c.logf("%s: OK", c.ref.URI)
	return nil
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.ref.Verbose && c.onVerbose != nil {
		c.onVerbose(format, args...)
	}
}
