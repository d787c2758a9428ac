package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/trail/pkg/config"
	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/session"
	"github.com/cuemby/trail/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	flags := cmd.Flags()
	flags.String("config", "", "")
	flags.String("data-dir", "", "")
	flags.String("api-url", "", "")
	flags.String("log-level", "", "")
	flags.Bool("json-logs", false, "")
	require.NoError(t, flags.Parse(args))
	return cmd
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/trail
api:
  base_url: https://file.example.co
log:
  level: warn
  json: true
`), 0600))

	cmd := newFlagCmd(t, "--config", path, "--api-url", "https://flag.example.co", "--json-logs=false")
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/trail", cfg.DataDir, "unset flags keep the file value")
	assert.Equal(t, "https://flag.example.co", cfg.API.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
}

func TestEnsureDeviceID_IsStable(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir, 0)
	require.NoError(t, err)
	defer store.Close()

	creds, err := sealedCredentials(dir, store)
	require.NoError(t, err)
	sess, err := session.New(creds)
	require.NoError(t, err)

	a := &app{cfg: config.Default(), store: store, creds: creds, session: sess}
	first, err := a.ensureDeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := a.ensureDeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, found, err := store.Get(keyDeviceID)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, first, raw, "stored sealed")

	a.cfg.DeviceID = "configured"
	id, err := a.ensureDeviceID()
	require.NoError(t, err)
	assert.Equal(t, "configured", id)
}

type countingResetter struct{ n atomic.Int32 }

func (r *countingResetter) Reset() { r.n.Add(1) }

func TestResetOnLogout(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &countingResetter{}
	resetOnLogout(ctx, broker, r)

	broker.Publish(&events.Event{Type: events.EventAuthRefreshed})
	broker.Publish(&events.Event{Type: events.EventAuthLoggedOut})

	require.Eventually(t, func() bool {
		return r.n.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), r.n.Load(), "other event types are ignored")
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.yaml")
	cmd := newFlagCmd(t, "--api-url", "https://api.example.co", "--data-dir", "/srv/trail")

	require.NoError(t, writeConfig(cmd, path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.co", cfg.API.BaseURL)
	assert.Equal(t, "/srv/trail", cfg.DataDir)
	assert.Equal(t, config.Default().Sync, cfg.Sync)
	assert.NoError(t, cfg.Validate())

	err = writeConfig(cmd, path, false)
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, writeConfig(cmd, path, true))
}
