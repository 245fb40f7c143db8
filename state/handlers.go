package state

import (
	"errors"
	"fmt"
)

const (
	OpSet    = "set"
	OpAdd    = "add"
	OpAppend = "append"
	OpDelete = "delete"
)

var (
	ErrUnknownOperation = errors.New("unknown mutation operation")
	ErrNotANumber       = errors.New("value is not a number")
	ErrNotAList         = errors.New("value is not a list")
)

// Set stores the payload under key.
func Set(key string) Handler {
	return func(state map[string]interface{}, payload interface{}) error {
		state[key] = payload
		return nil
	}
}

// Add adds a numeric payload to the number stored under key. A missing key
// counts as zero.
func Add(key string) Handler {
	return func(state map[string]interface{}, payload interface{}) error {
		delta, ok := toFloat(payload)
		if !ok {
			return ErrNotANumber
		}
		current := 0.0
		if value, found := state[key]; found && value != nil {
			current, ok = toFloat(value)
			if !ok {
				return ErrNotANumber
			}
		}
		state[key] = current + delta
		return nil
	}
}

// Append appends the payload to the list stored under key.
func Append(key string) Handler {
	return func(state map[string]interface{}, payload interface{}) error {
		list := []interface{}{}
		if value, found := state[key]; found && value != nil {
			existing, ok := value.([]interface{})
			if !ok {
				return ErrNotAList
			}
			list = make([]interface{}, len(existing), len(existing)+1)
			copy(list, existing)
		}
		state[key] = append(list, payload)
		return nil
	}
}

// Delete removes key from the state, ignoring the payload.
func Delete(key string) Handler {
	return func(state map[string]interface{}, _ interface{}) error {
		delete(state, key)
		return nil
	}
}

// HandlerFor resolves a configured operation name into a handler.
func HandlerFor(op, key string) (Handler, error) {
	switch op {
	case OpSet:
		return Set(key), nil
	case OpAdd:
		return Add(key), nil
	case OpAppend:
		return Append(key), nil
	case OpDelete:
		return Delete(key), nil
	default:
		return nil, fmt.Errorf("%v: %q", ErrUnknownOperation, op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
