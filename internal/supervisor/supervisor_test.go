package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgbrelay/kgb/internal/config"
)

type fakeReconciler struct {
	calls []*config.Config
}

func (f *fakeReconciler) Reconcile(cfg *config.Config) { f.calls = append(f.calls, cfg) }

type fakeStopper struct {
	reasons []string
}

func (f *fakeStopper) StopAll(reason string) { f.reasons = append(f.reasons, reason) }

func writeConfig(t *testing.T, path, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
}

func TestRPCBindChangedDetectsPortChange(t *testing.T) {
	a := &config.Config{Global: config.GlobalConfig{RPCAddr: "0.0.0.0", RPCPort: 9418, ServiceName: "kgb"}}
	b := &config.Config{Global: config.GlobalConfig{RPCAddr: "0.0.0.0", RPCPort: 9419, ServiceName: "kgb"}}
	assert.True(t, rpcBindChanged(a, b))
}

func TestRPCBindUnchangedWhenIdentical(t *testing.T) {
	a := &config.Config{Global: config.GlobalConfig{RPCAddr: "0.0.0.0", RPCPort: 9418, ServiceName: "kgb"}}
	b := &config.Config{Global: config.GlobalConfig{RPCAddr: "0.0.0.0", RPCPort: 9418, ServiceName: "kgb"}}
	assert.False(t, rpcBindChanged(a, b))
}

func TestHandleReloadReconcilesWhenBindUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kgb.yaml")
	base := "global:\n  service_name: kgb\n  rpc_port: 9418\nnetworks:\n  freenode:\n    host: irc.example.com\n"
	writeConfig(t, path, base)

	manager, err := config.NewManager(path)
	require.NoError(t, err)

	rec := &fakeReconciler{}
	s := New(Options{Manager: manager, Reconciler: rec, ConfigPath: path})

	writeConfig(t, path, base+"    alt_nick: kgb2\n")
	s.handleReload()

	require.Len(t, rec.calls, 1)
}

func TestHandleReloadSkipsReconcileOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kgb.yaml")
	base := "global:\n  service_name: kgb\n  rpc_port: 9418\n"
	writeConfig(t, path, base)

	manager, err := config.NewManager(path)
	require.NoError(t, err)

	rec := &fakeReconciler{}
	s := New(Options{Manager: manager, Reconciler: rec, ConfigPath: path})

	writeConfig(t, path, "not: [valid yaml")
	s.handleReload()

	assert.Empty(t, rec.calls)
}
