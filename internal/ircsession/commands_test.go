package ircsession

import (
	"math/rand"
	"testing"
	"time"

	"github.com/kgbrelay/kgb/internal/config"
	"github.com/stretchr/testify/assert"
)

func newTestSession(t *testing.T, cfg *config.Config) *Session {
	t.Helper()
	s := &Session{
		Network: "freenode",
		cfgFull: cfg,
		curNick: "kgb",
		rand:    rand.New(rand.NewSource(1)),
		joined:  make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
	return s
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ServiceName:  "kgb",
			Admins:       []string{"*!*@admin.example.com"},
			SmartAnswers: []string{"42", "beats me"},
		},
		Repositories: map[string]config.RepositoryConfig{},
		Networks: map[string]config.NetworkConfig{
			"freenode": {Host: "irc.example.com"},
		},
	}
	require := assert.New(t)
	require.NoError(cfg.Validate())
	return cfg
}

func TestDispatchCommandVersionBangword(t *testing.T) {
	s := newTestSession(t, testConfig(t))
	reply := s.dispatchCommand("nick!user@host", "#chan", "!version", true)
	assert.Equal(t, "Tried /CTCP kgb VERSION?", reply)
}

func TestDispatchCommandUnknownBangword(t *testing.T) {
	s := newTestSession(t, testConfig(t))
	reply := s.dispatchCommand("nick!user@host", "#chan", "!frobnicate", true)
	assert.Equal(t, "command '!frobnicate' is not known", reply)
}

func TestDispatchCommandAdminGetsNoSmartAnswer(t *testing.T) {
	s := newTestSession(t, testConfig(t))
	reply := s.dispatchCommand("nick!user@admin.example.com", "#chan", "hello", true)
	assert.Equal(t, "", reply)
}

func TestDispatchCommandNonAdminGetsSmartAnswer(t *testing.T) {
	s := newTestSession(t, testConfig(t))
	reply := s.dispatchCommand("nick!user@elsewhere.example.com", "#chan", "hello", true)
	assert.Contains(t, []string{"42", "beats me"}, reply)
}

func TestOutboxDropsWhenFull(t *testing.T) {
	o := NewOutbox(1)
	assert.True(t, o.Push("a"))
	assert.False(t, o.Push("b"))
	assert.Equal(t, 1, o.Len())
}

func TestOutboxPopUnblocksOnStop(t *testing.T) {
	o := NewOutbox(1)
	stop := make(chan struct{})
	done := make(chan bool)
	go func() {
		_, ok := o.Pop(stop)
		done <- ok
	}()
	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock on stop")
	}
}
