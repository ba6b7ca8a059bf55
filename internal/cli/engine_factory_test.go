package cli

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/conductor/internal/config"
	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm/llmtest"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

const officeManifest = `
agents:
  - name: mail
    description: drafts and sends email
    tools: [ask_user]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(officeManifest), 0o600))
	return &config.Config{
		LogLevel:  "off",
		Manifest:  path,
		Store:     config.StoreConfig{Driver: config.DriverMemory},
		Discovery: config.DiscoveryConfig{Provider: config.DiscoveryKeyword},
		Limits:    domain.DefaultLimits(),
	}
}

func TestNewApp_WiresManifestAndHooks(t *testing.T) {
	m := llmtest.New().Decision("route_intent", map[string]any{"route": "direct", "message": "Hi there."})
	app, err := NewApp(ctx, testConfig(t), AppOptions{Model: m, Logger: logging.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	var names []string
	for _, n := range app.Engine.Nodes() {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "mail")
	assert.Contains(t, names, "intent_router")

	events := app.Broadcaster.Subscribe(ctx, "")
	res, err := app.Engine.Invoke(ctx, ports.Request{UserID: "u1", Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there.", res.Answer)

	timeout := time.After(time.Second)
	for sawFinal := false; !sawFinal; {
		select {
		case ev := <-events:
			sawFinal = ev.Type == domain.EventFinal
		case <-timeout:
			t.Fatal("no final event was broadcast")
		}
	}

	n, err := testutil.GatherAndCount(app.Metrics, "conductor_answers_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	saved, err := app.Store.Load(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTerminated, saved.Status)
}

func TestNewApp_BadManifest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Manifest = filepath.Join(t.TempDir(), "missing.yaml")
	app, err := NewApp(ctx, cfg, AppOptions{Model: llmtest.New(), Logger: logging.NewNop()})
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestNewApp_FailureAfterStoreOpened(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Driver: config.DriverRedis, Redis: config.RedisConfig{Addr: mr.Addr()}}
	cfg.Manifest = filepath.Join(t.TempDir(), "missing.yaml")

	require.NotPanics(t, func() {
		app, err := NewApp(ctx, cfg, AppOptions{Model: llmtest.New(), Logger: logging.NewNop()})
		assert.Error(t, err)
		assert.Nil(t, app)
	})
	assert.NoError(t, (*App)(nil).Close())
}

func TestOpenStore_FileWithEncryption(t *testing.T) {
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	store, closeFn, err := OpenStore(ctx, config.StoreConfig{Driver: config.DriverFile, Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer closeFn()

	state := domain.NewState("t1", domain.DefaultLimits())
	state.Answer = "the launch code is 0000"
	require.NoError(t, store.Save(ctx, "t1", state))

	raw, err := os.ReadFile(filepath.Join(dir, "t1.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "launch code")

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state.Answer, loaded.Answer)
}

func TestOpenStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, closeFn, err := OpenStore(ctx, config.StoreConfig{
		Driver: config.DriverRedis,
		Redis:  config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
	})
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, store.Save(ctx, "t1", domain.NewState("t1", domain.DefaultLimits())))
	assert.True(t, mr.Exists("test:t1"))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

func TestOpenStore_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "db", "threads.db")
	store, closeFn, err := OpenStore(ctx, config.StoreConfig{Driver: config.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, store.Save(ctx, "t1", domain.NewState("t1", domain.DefaultLimits())))
	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", loaded.ThreadID)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(ctx, config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}
