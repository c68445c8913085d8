// Package audit is the relay's operational audit log (SPEC_FULL.md §4.10):
// it subscribes to internal/events' bus and persists IRC session lifecycle
// transitions and RPC-ingress rejections for operators debugging "why
// didn't my commit show up" reports. It never stores commit content, log
// text, or path lists — only event kind, timestamps, and the
// network/channel/repo identifiers already present on the bus event.
//
// Grounded on the teacher's internal/security.SessionAuditor: a store
// interface plus a non-blocking LogEvent, minus the geo-IP enrichment
// (meaningless for a relay's own outbound IRC connections).
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/kgbrelay/kgb/internal/events"
)

// Entry is one audit record. Data carries only diagnostic metadata —
// never commit content.
type Entry struct {
	EventType string
	Source    string
	Subject   string // repo id or network name, depending on EventType
	Network   string
	Data      map[string]interface{}
	Time      time.Time
}

// Store persists audit entries. PostgresStore is the production
// implementation; tests substitute a fake.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
}

// Logger subscribes to an EventBus and persists a fixed subset of event
// types to a Store. A nil Store makes it a no-op, matching
// config.GlobalConfig.AuditDSN being unset (spec.md "no-op sink").
type Logger struct {
	store  Store
	sub    chan *events.CloudEvent
	bus    *events.EventBus
	stopCh chan struct{}
}

// loggedTypes is the fixed set of event kinds the audit log records
// (spec.md §4.10): session lifecycle and ingress admission rejections.
// Deliveries themselves (commit content) are explicitly excluded.
var loggedTypes = []string{
	events.TypeSessionConnected,
	events.TypeSessionDisconnected,
	events.TypeIngressRejected,
	events.TypeReloadApplied,
}

// NewLogger builds a Logger. Pass a nil store to disable persistence
// while still draining the bus subscription.
func NewLogger(store Store) *Logger {
	return &Logger{store: store, stopCh: make(chan struct{})}
}

// Start subscribes to bus and begins persisting matching events in a
// background goroutine. Call Stop to unsubscribe and release the
// goroutine.
func (l *Logger) Start(bus *events.EventBus) {
	l.bus = bus
	l.sub = bus.Subscribe(loggedTypes...)
	go l.loop()
}

// Stop unsubscribes from the bus, terminating the background loop.
func (l *Logger) Stop() {
	if l.bus != nil && l.sub != nil {
		l.bus.Unsubscribe(l.sub)
	}
	close(l.stopCh)
}

func (l *Logger) loop() {
	for {
		select {
		case ev, ok := <-l.sub:
			if !ok {
				return
			}
			l.persist(ev)
		case <-l.stopCh:
			return
		}
	}
}

// persist writes one event to the store off the bus-delivery path, so a
// slow database never backs up event dispatch (mirrors the teacher's
// "Non-blocking persist" comment in SessionAuditor.LogEvent).
func (l *Logger) persist(ev *events.CloudEvent) {
	if l.store == nil {
		return
	}
	entry := Entry{
		EventType: ev.Type,
		Source:    ev.Source,
		Subject:   ev.Subject,
		Network:   ev.Network,
		Data:      ev.Data,
		Time:      ev.Time,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.InsertEntry(ctx, entry); err != nil {
			slog.Error("audit: failed to persist entry", "event_type", entry.EventType, "subject", entry.Subject, "error", err)
		}
	}()
}
