package store

import (
	"context"
	"errors"
)

var (
	// ErrBucketNotFound is an error indicating the data store bucket does not exist
	ErrBucketNotFound = errors.New("bucket not found")
)

const (
	// Permissions to use on the db file. This is only used if the
	// database file does not exist and needs to be created.
	dbFileMode = 0600
)

// Adapter loads and saves the persistent subset of the state.
type Adapter interface {
	// Load returns the saved values, and false when nothing was ever saved.
	Load(ctx context.Context) (map[string]interface{}, bool, error)
	// Save replaces the saved values with snapshot.
	Save(ctx context.Context, snapshot map[string]interface{}) error
}

// Filter returns the entries of state whose key is listed in keys.
func Filter(state map[string]interface{}, keys []string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := state[key]; ok {
			out[key] = value
		}
	}
	return out
}
