package cli

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/store-sync/kv/store"
	"github.com/vx-labs/store-sync/state"
	"go.uber.org/zap"
)

const sampleConfig = `
persistent_states:
  - counter
ignored_mutations:
  - debugPing
initial_state:
  counter: 0
  prefs:
    theme: light
  tabs: []
mutations:
  inc:
    op: add
    key: counter
  setPrefs:
    op: set
    key: prefs
`

func writeConfig(t *testing.T, content string) (string, func()) {
	dir, err := ioutil.TempDir("", "store-sync-cli")
	require.NoError(t, err)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path, func() { os.RemoveAll(dir) }
}

func loadSample(t *testing.T) Config {
	path, cleanup := writeConfig(t, sampleConfig)
	defer cleanup()
	cmd := &cobra.Command{}
	v := NewViper()
	AddConfigFlags(cmd, v)
	AddStoreFlags(cmd, v)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	config, err := LoadConfig(v)
	require.NoError(t, err)
	return config
}

func TestLoadConfig(t *testing.T) {
	config := loadSample(t)
	require.Equal(t, []string{"counter"}, config.PersistentStates)
	require.Equal(t, []string{"debugPing"}, config.IgnoredMutations)
	require.Equal(t, map[string]interface{}{"theme": "light"}, config.InitialState["prefs"])
	require.Equal(t, MutationConfig{Op: "add", Key: "counter"}, config.Mutations["inc"])
	require.Empty(t, config.StorePath)

	require.NoError(t, config.RequireMutations())
	require.Equal(t, ErrNoMutations, Config{}.RequireMutations())

	settings := config.Settings()
	require.Equal(t, []string{"counter"}, settings.PersistentStates)
	require.Equal(t, []string{"debugPing"}, settings.IgnoredMutations)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cmd := &cobra.Command{}
	v := NewViper()
	AddConfigFlags(cmd, v)
	require.NoError(t, cmd.PersistentFlags().Set("config", "/nonexistent/config.yaml"))
	_, err := LoadConfig(v)
	require.Error(t, err)
}

func TestBuildContainer(t *testing.T) {
	container, err := BuildContainer(loadSample(t))
	require.NoError(t, err)
	require.NoError(t, container.Commit("inc", 2))
	require.NoError(t, container.Commit("setPrefs", map[string]interface{}{"theme": "dark"}))
	require.Equal(t, 2.0, container.State()["counter"])
	require.Equal(t, map[string]interface{}{"theme": "dark"}, container.State()["prefs"])
	require.Equal(t, state.ErrUnknownMutation, container.Commit("debugPing", nil))

	t.Run("rejects invalid mappings", func(t *testing.T) {
		_, err := BuildContainer(Config{Mutations: map[string]MutationConfig{"inc": {Op: "multiply", Key: "counter"}}})
		require.Error(t, err)
		_, err = BuildContainer(Config{Mutations: map[string]MutationConfig{state.ReplaceState: {Op: "set", Key: "x"}}})
		require.Error(t, err)
	})
}

func TestOpenStore(t *testing.T) {
	adapter, release, err := OpenStore(Config{})
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, adapter)
	require.NoError(t, release())

	dir, err := ioutil.TempDir("", "store-sync-cli")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	adapter, release, err = OpenStore(Config{StorePath: filepath.Join(dir, "db.bolt")})
	require.NoError(t, err)
	require.IsType(t, &store.BoltStore{}, adapter)
	require.NoError(t, release())
}

type staticHealth string

func (s staticHealth) Health() string { return string(s) }

func TestHealthMux(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "storesync_test_total", Help: "test"})
	counter.Inc()
	registry := prometheus.NewRegistry()
	registry.MustRegister(counter)

	for status, code := range map[string]int{
		"ok":       http.StatusOK,
		"warning":  http.StatusTooManyRequests,
		"critical": http.StatusInternalServerError,
	} {
		recorder := httptest.NewRecorder()
		healthMux(registry, staticHealth(status), nil).ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))
		require.Equal(t, code, recorder.Code, status)
	}
	recorder := httptest.NewRecorder()
	healthMux(registry, staticHealth("ok"), nil).ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "storesync_test_total 1")

	recorder = httptest.NewRecorder()
	healthMux(registry, staticHealth("ok"), nil).ServeHTTP(recorder, httptest.NewRequest("GET", "/backup", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHealthMux_Backup(t *testing.T) {
	dir, err := ioutil.TempDir("", "store-sync-cli")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	adapter, release, err := OpenStore(Config{StorePath: filepath.Join(dir, "db.bolt")})
	require.NoError(t, err)
	defer release()
	require.NoError(t, adapter.Save(context.Background(), map[string]interface{}{"counter": 5}))
	backup, ok := adapter.(Backuper)
	require.True(t, ok)

	recorder := httptest.NewRecorder()
	healthMux(prometheus.NewRegistry(), staticHealth("ok"), backup).ServeHTTP(recorder, httptest.NewRequest("GET", "/backup", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	copyPath := filepath.Join(dir, "backup.bolt")
	require.NoError(t, ioutil.WriteFile(copyPath, recorder.Body.Bytes(), 0600))
	restored, err := store.New(store.Options{Path: copyPath})
	require.NoError(t, err)
	defer restored.Close()
	saved, found, err := restored.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, map[string]interface{}{"counter": 5.0}, saved)
}

func TestListen_Disabled(t *testing.T) {
	cmd := &cobra.Command{}
	v := NewViper()
	AddListenerFlags(cmd, v)
	for _, name := range []string{"tcp-bind-port", "ws-bind-port", "health-bind-port"} {
		require.NoError(t, cmd.Flags().Set(name, "0"))
	}
	transports, err := Listen(v, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, transports)
	server, err := ServeHTTPHealth(v, zap.NewNop(), staticHealth("ok"), nil)
	require.NoError(t, err)
	require.Nil(t, server)

	t.Run("tls requires a certificate", func(t *testing.T) {
		require.NoError(t, cmd.Flags().Set("tls-bind-port", "4443"))
		_, err := Listen(v, zap.NewNop())
		require.Error(t, err)
	})
}
