package mutation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutationEqual(t *testing.T) {
	t.Run("same scalar payload", func(t *testing.T) {
		require.True(t, Mutation{Type: "inc", Payload: 1}.Equal(Mutation{Type: "inc", Payload: 1}))
	})
	t.Run("different type", func(t *testing.T) {
		require.False(t, Mutation{Type: "inc", Payload: 1}.Equal(Mutation{Type: "dec", Payload: 1}))
	})
	t.Run("structured payload", func(t *testing.T) {
		a := Mutation{Type: "set", Payload: map[string]interface{}{"key": "theme", "value": []interface{}{"a", 1.0}}}
		b := Mutation{Type: "set", Payload: map[string]interface{}{"key": "theme", "value": []interface{}{"a", 1.0}}}
		require.True(t, a.Equal(b))
		b.Payload.(map[string]interface{})["key"] = "lang"
		require.False(t, a.Equal(b))
	})
	t.Run("nil payloads", func(t *testing.T) {
		require.True(t, Mutation{Type: "reset"}.Equal(Mutation{Type: "reset"}))
	})
}

func TestMessages(t *testing.T) {
	t.Run("mutation wire shape", func(t *testing.T) {
		raw, err := EncodeMutation(Mutation{Type: "inc", Payload: 1})
		require.NoError(t, err)
		require.JSONEq(t, `{"type":"@@STORE_SYNC_MUTATION","data":{"type":"inc","payload":1}}`, string(raw))
		require.Equal(t, MutationMessage, MessageType(raw))

		m, err := DecodeMutation(raw)
		require.NoError(t, err)
		require.Equal(t, "inc", m.Type)
		require.Equal(t, 1.0, m.Payload)
	})
	t.Run("state wire shape", func(t *testing.T) {
		raw, err := EncodeState(map[string]interface{}{"counter": 5})
		require.NoError(t, err)
		require.JSONEq(t, `{"type":"@@STORE_SYNC_STATE","data":{"counter":5}}`, string(raw))

		state, err := DecodeState(raw)
		require.NoError(t, err)
		require.Equal(t, map[string]interface{}{"counter": 5.0}, state)
	})
	t.Run("nil state encodes as an empty object", func(t *testing.T) {
		raw, err := EncodeState(nil)
		require.NoError(t, err)
		msg, err := Decode(raw)
		require.NoError(t, err)
		require.Equal(t, json.RawMessage(`{}`), msg.Data)
	})
	t.Run("type tag peek", func(t *testing.T) {
		require.Equal(t, "", MessageType([]byte(`not json`)))
		require.Equal(t, "", MessageType([]byte(`{"data":{}}`)))
		require.Equal(t, "", MessageType([]byte(`{"type":42}`)))
		require.Equal(t, "hello", MessageType([]byte(`{"type":"hello"}`)))
	})
	t.Run("mutation without type", func(t *testing.T) {
		_, err := DecodeMutation([]byte(`{"type":"@@STORE_SYNC_MUTATION","data":{"payload":1}}`))
		require.Equal(t, ErrMissingMutationType, err)
	})
	t.Run("wrong envelope", func(t *testing.T) {
		_, err := DecodeMutation([]byte(`{"type":"@@STORE_SYNC_STATE","data":{}}`))
		require.Equal(t, ErrUnexpectedMessage, err)
		_, err = DecodeState([]byte(`{"type":"@@STORE_SYNC_MUTATION","data":{}}`))
		require.Equal(t, ErrUnexpectedMessage, err)
	})
}
