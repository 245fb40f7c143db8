package replica

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/store-sync/broker"
	"github.com/vx-labs/store-sync/kv/store"
	"github.com/vx-labs/store-sync/state"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

func newContainer(initial map[string]interface{}) *state.Store {
	s := state.NewStore(initial)
	s.Register("inc", state.Add("counter"))
	s.Register("setTheme", state.Set("theme"))
	s.Register("debugPing", state.Set("ping"))
	return s
}

func waitSynced(t *testing.T, r *Replica) {
	select {
	case <-r.Synced():
	case <-time.After(2 * time.Second):
		t.Fatal("replica did not sync")
	}
}

func TestReplica(t *testing.T) {
	ignored := []string{"debugPing"}
	adapter := store.NewMemoryStoreWith(map[string]interface{}{"counter": 5})
	b := broker.New(zap.NewNop(), newContainer(map[string]interface{}{"counter": 0, "theme": "light"}), adapter,
		broker.Settings{PersistentStates: []string{"counter"}, IgnoredMutations: ignored})
	defer b.Close()
	<-b.Restored()
	pipes := transport.NewPipeTransport()
	defer pipes.Close()
	b.Attach(pipes)

	connect := func(name string) *Replica {
		conn, err := pipes.Connect(name)
		require.NoError(t, err)
		r := New(zap.NewNop(), conn, newContainer(nil), ignored)
		waitSynced(t, r)
		return r
	}
	popup := connect("popup")
	defer popup.Close()
	options := connect("options")
	defer options.Close()
	require.Equal(t, 5.0, popup.State()["counter"])
	require.Equal(t, "light", options.State()["theme"])

	t.Run("local commits reach the broker and other replicas", func(t *testing.T) {
		require.NoError(t, popup.Commit("inc", 1))
		require.Equal(t, 6.0, popup.State()["counter"])
		require.Eventually(t, func() bool {
			return options.State()["counter"] == 6.0 && b.State()["counter"] == 6.0
		}, time.Second, 10*time.Millisecond)
	})
	t.Run("the emitter does not apply its own mutation twice", func(t *testing.T) {
		require.NoError(t, options.Commit("setTheme", "dark"))
		require.Eventually(t, func() bool {
			return popup.State()["theme"] == "dark"
		}, time.Second, 10*time.Millisecond)
		require.NoError(t, options.Commit("inc", 1))
		require.Eventually(t, func() bool {
			return popup.State()["counter"] == 7.0
		}, time.Second, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		require.Equal(t, 7.0, options.State()["counter"])
		require.Equal(t, 7.0, b.State()["counter"])
	})
	t.Run("ignored mutations stay local", func(t *testing.T) {
		require.NoError(t, popup.Commit("debugPing", "pong"))
		require.Equal(t, "pong", popup.State()["ping"])
		time.Sleep(50 * time.Millisecond)
		require.NotContains(t, b.State(), "ping")
		require.NotContains(t, options.State(), "ping")
	})
	t.Run("unknown local mutations are rejected", func(t *testing.T) {
		require.Equal(t, state.ErrUnknownMutation, popup.Commit("unknown", 1))
	})
}

func TestReplica_OnChange(t *testing.T) {
	b := broker.New(zap.NewNop(), newContainer(map[string]interface{}{"counter": 0}), nil, broker.DefaultSettings())
	defer b.Close()
	pipes := transport.NewPipeTransport()
	defer pipes.Close()
	b.Attach(pipes)

	conn, err := pipes.Connect("watcher")
	require.NoError(t, err)
	r := New(zap.NewNop(), conn, newContainer(nil), nil)
	defer r.Close()
	waitSynced(t, r)

	var mutex sync.Mutex
	changes := []string{}
	r.OnChange(func(mutationType string, _ map[string]interface{}) {
		mutex.Lock()
		defer mutex.Unlock()
		changes = append(changes, mutationType)
	})
	require.NoError(t, b.Commit("inc", 1))
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(changes) == 1 && changes[0] == "inc"
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1.0, r.State()["counter"])
}

func TestReplica_Done(t *testing.T) {
	server, client := transport.Pipe("lonely")
	r := New(zap.NewNop(), client, newContainer(nil), nil)
	server.Start()
	require.NoError(t, server.Close())
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("disconnect not observed")
	}
	r.Close()
}
