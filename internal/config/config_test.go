package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
global:
  service_name: kgb
  rpc_port: 9999
  admins:
    - "*!*@admin.example.com"

networks:
  freenode:
    host: irc.freenode.net
    nick: kgb-bot

repositories:
  myrepo:
    password: secret
    channels:
      - network: freenode
        channel: "#commits"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kgb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesAndValidates(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kgb", cfg.Global.ServiceName)
	assert.Equal(t, 9999, cfg.Global.RPCPort)
	assert.Equal(t, []ChannelRef{{Network: "freenode", Channel: "#commits"}}, cfg.ChannelsFor("myrepo"))
}

func TestLoadRejectsUndeclaredNetwork(t *testing.T) {
	bad := `
global:
  service_name: kgb
repositories:
  myrepo:
    channels:
      - network: nope
        channel: "#x"
`
	path := writeTemp(t, bad)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestIsAdminMatchesGlob(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsAdmin("freenode", "nick!user@admin.example.com"))
	assert.False(t, cfg.IsAdmin("freenode", "nick!user@evil.example.com"))
}

func TestNetworkDefaultsApplied(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	net := cfg.Networks["freenode"]
	assert.Equal(t, 6667, net.Port)
	assert.Equal(t, 5, net.ReconnectMinSec)
	assert.Equal(t, 300, net.ReconnectMaxSec)
}

func TestManagerReloadDetectsNetworkAddition(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)

	updated := strings.Replace(sampleYAML, "networks:\n", "networks:\n  efnet:\n    host: irc.efnet.org\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	diff, err := mgr.Reload()
	require.NoError(t, err)
	assert.Contains(t, diff.NetworksAdded, "efnet")
	assert.False(t, diff.Empty())
}

func TestManagerReloadNoOpWhenUnchanged(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)

	diff, err := mgr.Reload()
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestManagerReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)
	before := mgr.Current()

	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o600))
	_, err = mgr.Reload()
	assert.Error(t, err)
	assert.Same(t, before, mgr.Current())
}
