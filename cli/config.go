package cli

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/store-sync/broker"
	"github.com/vx-labs/store-sync/kv/store"
	"github.com/vx-labs/store-sync/state"
)

const envPrefix = "storesync"

var (
	ErrNoMutations = errors.New("no mutation handler configured, pass the daemon configuration file with --config")
)

// MutationConfig maps a mutation type onto a state handler.
type MutationConfig struct {
	Op  string `mapstructure:"op"`
	Key string `mapstructure:"key"`
}

type Config struct {
	PersistentStates []string                  `mapstructure:"persistent_states"`
	IgnoredMutations []string                  `mapstructure:"ignored_mutations"`
	InitialState     map[string]interface{}    `mapstructure:"initial_state"`
	Mutations        map[string]MutationConfig `mapstructure:"mutations"`
	StorePath        string                    `mapstructure:"store_path"`
}

// NewViper returns a viper instance reading STORESYNC_ environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// AddConfigFlags registers the flags shared by the daemon and the client.
func AddConfigFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().StringP("config", "c", "", "Read configuration from this file (YAML, TOML or JSON)")
	v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	cmd.PersistentFlags().StringSliceP("ignored-mutations", "", []string{}, "Mutation types excluded from synchronization")
	v.BindPFlag("ignored_mutations", cmd.PersistentFlags().Lookup("ignored-mutations"))
}

// AddStoreFlags registers the flags controlling persistence.
func AddStoreFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().StringSliceP("persistent-states", "", []string{}, "State keys saved on every mutation and restored at startup")
	v.BindPFlag("persistent_states", cmd.Flags().Lookup("persistent-states"))
	cmd.Flags().StringP("store-path", "", "", "Persist states in this bolt database (in memory when empty)")
	v.BindPFlag("store_path", cmd.Flags().Lookup("store-path"))
}

// LoadConfig reads the optional configuration file and decodes the
// configuration.
func LoadConfig(v *viper.Viper) (Config, error) {
	config := Config{}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		err := v.ReadInConfig()
		if err != nil {
			return config, errors.Wrapf(err, "failed to read configuration file %q", file)
		}
	}
	err := v.Unmarshal(&config)
	if err != nil {
		return config, errors.Wrap(err, "failed to decode configuration")
	}
	config.InitialState = normalize(config.InitialState).(map[string]interface{})
	return config, nil
}

// normalize turns the map[interface{}]interface{} values produced by YAML
// decoding into JSON-compatible maps.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return map[string]interface{}{}
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, elem := range v {
			out[fmt.Sprint(key)] = normalizeValue(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, elem := range v {
			out[key] = normalizeValue(elem)
		}
		return out
	default:
		return value
	}
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}, map[string]interface{}:
		return normalize(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for idx := range v {
			out[idx] = normalizeValue(v[idx])
		}
		return out
	default:
		return value
	}
}

// BuildContainer creates the state container described by config.
func BuildContainer(config Config) (*state.Store, error) {
	container := state.NewStore(config.InitialState)
	for mutationType, mapping := range config.Mutations {
		if mutationType == state.ReplaceState {
			return nil, errors.Errorf("mutation type %q is reserved", mutationType)
		}
		handler, err := state.HandlerFor(mapping.Op, mapping.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid mapping for mutation %q", mutationType)
		}
		container.Register(mutationType, handler)
	}
	return container, nil
}

// RequireMutations fails when no mutation handler is configured. A replica
// built without handlers cannot apply the mutations it receives.
func (c Config) RequireMutations() error {
	if len(c.Mutations) == 0 {
		return ErrNoMutations
	}
	return nil
}

// Settings returns the broker settings carried by c.
func (c Config) Settings() broker.Settings {
	return broker.Settings{
		PersistentStates: c.PersistentStates,
		IgnoredMutations: c.IgnoredMutations,
	}
}

// OpenStore opens the persistence adapter. The returned function releases it.
func OpenStore(config Config) (store.Adapter, func() error, error) {
	if config.StorePath == "" {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	db, err := store.New(store.Options{Path: config.StorePath})
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
