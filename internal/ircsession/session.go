package ircsession

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kgbrelay/kgb/internal/circuitbreaker"
	"github.com/kgbrelay/kgb/internal/config"
	"github.com/kgbrelay/kgb/internal/events"
	"github.com/kgbrelay/kgb/internal/metrics"
)

// Dialer opens the transport connection for a network. The default is
// dialNetwork (net.Dial or tls.Dial per NetworkConfig.SSL); tests inject an
// in-memory pipe instead.
type Dialer func(cfg config.NetworkConfig) (io.ReadWriteCloser, error)

// FeedNotifier mirrors session lifecycle to the admin live feed;
// internal/adminweb.Hub satisfies it.
type FeedNotifier interface {
	Session(network, state string)
}

// DedupReset is called when a session disconnects, so the fan-out layer can
// discard that network's seen-sets (spec.md §3 "Seen-set ... discarded on
// disconnect"). internal/fanout.Fanout.ResetNetwork satisfies it.
type DedupReset func(network string)

const ctcpDelim = "\x01"

// Session owns one IRC network connection: connect, register, join,
// reconnect with backoff, and all the per-connection behaviours spec.md
// §4.7 requires.
type Session struct {
	Network string

	dial   Dialer
	bus    events.EventEmitter
	feed   FeedNotifier
	reset  DedupReset
	cb     *circuitbreaker.CircuitBreaker
	outbox *Outbox

	mu       sync.RWMutex
	cfg      config.NetworkConfig
	cfgFull  *config.Config
	state    State
	curNick  string
	joined   map[string]bool
	conn     io.ReadWriteCloser
	writer   *bufio.Writer
	writeMu  sync.Mutex // serializes writes from pump() and direct send() callers
	stopCh   chan struct{}
	stopped  bool
	rand     *rand.Rand

	backoffStore BackoffStore
	attempt      int

	onChannelText func(network, channel, text string)
}

// SetChannelObserver registers the callback invoked whenever a PRIVMSG
// arrives on a joined channel, so the fan-out layer can feed its MRU
// (spec.md §4.6). internal/fanout.Fanout.ObserveChannelTraffic fits this
// signature directly.
func (s *Session) SetChannelObserver(fn func(network, channel, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChannelText = fn
}

// New creates a session for network, not yet connected. Call Run to start
// its connect/reconnect loop in a goroutine.
func New(network string, cfg config.NetworkConfig, full *config.Config, cb *circuitbreaker.CircuitBreaker, bus events.EventEmitter, feed FeedNotifier, reset DedupReset) *Session {
	return &Session{
		Network: network,
		dial:    dialNetwork,
		bus:     bus,
		feed:    feed,
		reset:   reset,
		cb:      cb,
		outbox:  NewOutbox(512),
		cfg:     cfg,
		cfgFull: full,
		state:   StateDisconnected,
		joined:  make(map[string]bool),
		stopCh:  make(chan struct{}),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the current state machine position.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UpdateConfig swaps in a new NetworkConfig/Config snapshot; the caller
// (Hub) decides beforehand whether this requires a respawn.
func (s *Session) UpdateConfig(cfg config.NetworkConfig, full *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.cfgFull = full
}

// Enqueue queues lines for delivery to channel. The pump writes them as
// soon as a connection is up; it does not wait for the channel's JOIN to
// be confirmed. Lines already carry any chunking/colorization from
// internal/formatter.
func (s *Session) Enqueue(channel string, lines []string) {
	for _, l := range lines {
		s.outbox.Push(EncodeLine("PRIVMSG", channel, l))
	}
}

// Stop tears the session down and halts its reconnect loop.
func (s *Session) Stop(quitMsg string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(EncodeLine("QUIT", quitMsg))
		conn.Close()
	}
	close(s.stopCh)
}

// Run drives the connect -> register -> join -> (disconnect, backoff,
// reconnect) loop until Stop is called. Intended to run in its own
// goroutine; one per configured network, per spec.md §4.7.
func (s *Session) Run() {
	s.restoreBackoff()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connectAndServe(); err != nil {
			slog.Warn("ircsession: connection ended", "network", s.Network, "error", err)
		}

		s.setState(StateDisconnected)
		if s.reset != nil {
			s.reset(s.Network)
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		backoff, attempt := s.nextBackoff()
		s.saveBackoff(attempt, time.Now().Add(backoff))
		metrics.SessionReconnectsTotal.WithLabelValues(s.Network).Inc()
		select {
		case <-time.After(backoff):
		case <-s.stopCh:
			return
		}
	}
}

// nextBackoff returns the next wait and the attempt count it represents.
// Doubles from min each consecutive failure, capped at max (itself capped
// at 30s per spec.md §4.7/§5), with jitter so reconnecting networks don't
// all retry in lockstep.
func (s *Session) nextBackoff() (time.Duration, int) {
	s.mu.Lock()
	min, max := s.cfg.ReconnectMinSec, s.cfg.ReconnectMaxSec
	if min <= 0 {
		min = 5
	}
	if max <= 0 || max < min {
		max = 30
	}
	if max > 30 {
		max = 30 // spec.md §4.7/§5: reconnect backoff capped at ~30s
	}
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	base := min << uint(attempt-1)
	if base <= 0 || base > max {
		base = max
	}
	// Jitter up to 20% of base, never pushing the total past max.
	jitterMax := base / 5
	total := base
	if jitterMax > 0 {
		total += s.rand.Intn(jitterMax + 1)
	}
	if total > max {
		total = max
	}
	return time.Duration(total) * time.Second, attempt
}

func (s *Session) connectAndServe() error {
	if s.cb != nil {
		if err := s.cb.Allow(); err != nil {
			return fmt.Errorf("circuit open for network %s: %w", s.Network, err)
		}
	}

	s.setState(StateConnecting)

	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	conn, err := s.dial(cfg)
	if err != nil {
		s.recordBreaker(false)
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.writer = bufio.NewWriter(conn)
	s.joined = make(map[string]bool)
	nick := cfg.Nick
	s.curNick = nick
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	if cfg.Password != "" {
		s.send(EncodeLine("PASS", cfg.Password))
	}
	s.send(EncodeLine("NICK", nick))
	s.send(EncodeLine("USER", cfg.Ident, "0", "*", cfg.Realname))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 65536)

	go s.pump()

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		s.handleLine(line)
	}
	s.recordBreaker(s.State() == StateJoined || s.State() == StateRegistered)
	return scanner.Err()
}

func (s *Session) recordBreaker(success bool) {
	if s.cb == nil {
		return
	}
	_, _ = s.cb.Execute(func() (interface{}, error) {
		if success {
			return nil, nil
		}
		return nil, fmt.Errorf("network %s connect/register failed", s.Network)
	})
}

// pump drains the outbox onto the wire until the connection closes.
func (s *Session) pump() {
	for {
		line, ok := s.outbox.Pop(s.stopCh)
		if !ok {
			return
		}
		if err := s.send(line); err != nil {
			return
		}
	}
}

func (s *Session) send(line string) error {
	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("ircsession: no connection for network %s", s.Network)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SessionStateTransitionsTotal.WithLabelValues(s.Network, string(st)).Inc()
	if s.feed != nil {
		s.feed.Session(s.Network, string(st))
	}
	if s.bus != nil {
		typ := events.TypeSessionConnected
		if st == StateDisconnected {
			typ = events.TypeSessionDisconnected
		}
		s.bus.Emit(typ, "ircsession", s.Network, map[string]interface{}{"state": string(st)})
	}
	if st == StateRegistered {
		s.clearBackoff()
	}
}

func (s *Session) handleLine(line string) {
	msg := ParseMessage(line)

	switch msg.Command {
	case "001": // RPL_WELCOME
		s.mu.Lock()
		s.curNick = msg.Param(0)
		cfg := s.cfg
		s.mu.Unlock()
		s.setState(StateRegistered)
		if cfg.NickservPass != "" {
			account := cfg.NickservAccount
			if account == "" {
				account = cfg.Nick
			}
			s.send(EncodeLine("PRIVMSG", "NickServ", "IDENTIFY "+account+" "+cfg.NickservPass))
		}
		s.rejoinAll()

	case "433": // ERR_NICKNAMEINUSE
		s.mu.Lock()
		wasRegistered := s.state == StateRegistered || s.state == StateJoined
		s.mu.Unlock()
		if !wasRegistered {
			s.tryAltNick()
		}

	case "PING":
		s.send(EncodeLine("PONG", msg.Params...))

	case "JOIN":
		if len(msg.Params) > 0 && strings.EqualFold(Nick(msg.Prefix), s.currentNick()) {
			s.mu.Lock()
			s.joined[msg.Params[0]] = true
			s.mu.Unlock()
			s.setState(StateJoined)
		}

	case "PRIVMSG":
		s.handlePrivmsg(msg)

	case "NOTICE":
		// no action required; logged at debug level by the caller if desired
	}
}

func (s *Session) currentNick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curNick
}

func (s *Session) tryAltNick() {
	s.mu.Lock()
	alt := s.cfg.AltNick
	if alt == "" {
		alt = s.cfg.Nick + "_"
	}
	s.curNick = alt
	s.mu.Unlock()
	s.send(EncodeLine("NICK", alt))
	go s.reclaimDesiredNick()
}

// reclaimDesiredNick periodically attempts to reclaim the configured nick
// while running under a transient one (spec.md §4.7 "Nick reclaim").
func (s *Session) reclaimDesiredNick() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			desired := s.cfg.Nick
			cur := s.curNick
			s.mu.RUnlock()
			if cur == desired {
				return
			}
			s.send(EncodeLine("NICK", desired))
		}
	}
}

func (s *Session) rejoinAll() {
	s.mu.RLock()
	full := s.cfgFull
	s.mu.RUnlock()
	if full == nil {
		return
	}
	for _, ch := range full.ChannelsOnNetwork(s.Network) {
		s.Join(ch)
	}
}

// Join sends a JOIN for channel if not already a member.
func (s *Session) Join(channel string) {
	s.mu.RLock()
	already := s.joined[channel]
	s.mu.RUnlock()
	if already {
		return
	}
	s.send(EncodeLine("JOIN", channel))
}

// Part sends a PART for channel and forgets membership.
func (s *Session) Part(channel, reason string) {
	s.mu.Lock()
	delete(s.joined, channel)
	s.mu.Unlock()
	s.send(EncodeLine("PART", channel, reason))
}

func (s *Session) handlePrivmsg(msg Message) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]
	text := msg.Params[1]

	if strings.HasPrefix(text, ctcpDelim) {
		s.handleCTCP(msg.Prefix, target, strings.Trim(text, ctcpDelim))
		return
	}

	nick := s.currentNick()
	isChannel := strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
	if isChannel {
		s.observeChannelText(target, text)
	}

	var command string
	switch {
	case !isChannel:
		command = text // private message: whole line is the command
	default:
		lower := strings.ToLower(text)
		prefix1 := strings.ToLower(nick) + ":"
		prefix2 := strings.ToLower(nick) + ","
		switch {
		case strings.HasPrefix(lower, prefix1):
			command = strings.TrimSpace(text[len(prefix1):])
		case strings.HasPrefix(lower, prefix2):
			command = strings.TrimSpace(text[len(prefix2):])
		default:
			return
		}
	}

	replyTo := target
	if !isChannel {
		replyTo = Nick(msg.Prefix)
	}
	reply := s.dispatchCommand(msg.Prefix, target, command, isChannel)
	if reply != "" {
		s.send(EncodeLine("PRIVMSG", replyTo, reply))
	}
}

func (s *Session) observeChannelText(channel, text string) {
	s.mu.RLock()
	fn := s.onChannelText
	s.mu.RUnlock()
	if fn != nil {
		fn(s.Network, channel, text)
	}
}

func dialNetwork(cfg config.NetworkConfig) (io.ReadWriteCloser, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.SSL {
		return tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
	}
	return net.Dial("tcp", addr)
}
