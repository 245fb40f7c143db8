package mutation

import (
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	// StateMessage carries a full state snapshot.
	StateMessage = "@@STORE_SYNC_STATE"
	// MutationMessage carries a single mutation.
	MutationMessage = "@@STORE_SYNC_MUTATION"
)

var (
	ErrMissingMutationType = errors.New("mutation type is missing")
	ErrUnexpectedMessage   = errors.New("unexpected message type")
)

// Message is the envelope exchanged between contexts.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func encode(kind string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to encode %s data", kind)
	}
	return json.Marshal(Message{Type: kind, Data: payload})
}

// EncodeState builds a StateMessage holding the given snapshot.
func EncodeState(state map[string]interface{}) ([]byte, error) {
	if state == nil {
		state = map[string]interface{}{}
	}
	return encode(StateMessage, state)
}

// EncodeMutation builds a MutationMessage holding m.
func EncodeMutation(m Mutation) ([]byte, error) {
	return encode(MutationMessage, m)
}

// MessageType returns the type tag of a raw message, or an empty string if
// the payload is not a JSON object carrying a string type tag.
func MessageType(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	tag := gjson.GetBytes(raw, "type")
	if tag.Type != gjson.String {
		return ""
	}
	return tag.String()
}

// Decode parses a raw message envelope.
func Decode(raw []byte) (Message, error) {
	msg := Message{}
	err := json.Unmarshal(raw, &msg)
	if err != nil {
		return msg, pkgerrors.Wrap(err, "failed to decode message")
	}
	return msg, nil
}

// DecodeMutation parses a raw MutationMessage and returns the mutation it carries.
func DecodeMutation(raw []byte) (Mutation, error) {
	m := Mutation{}
	msg, err := Decode(raw)
	if err != nil {
		return m, err
	}
	if msg.Type != MutationMessage {
		return m, ErrUnexpectedMessage
	}
	if !gjson.GetBytes(msg.Data, "type").Exists() {
		return m, ErrMissingMutationType
	}
	err = json.Unmarshal(msg.Data, &m)
	if err != nil {
		return m, pkgerrors.Wrap(err, "failed to decode mutation")
	}
	if m.Type == "" {
		return m, ErrMissingMutationType
	}
	return m, nil
}

// DecodeState parses a raw StateMessage and returns the snapshot it carries.
func DecodeState(raw []byte) (map[string]interface{}, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if msg.Type != StateMessage {
		return nil, ErrUnexpectedMessage
	}
	state := map[string]interface{}{}
	err = json.Unmarshal(msg.Data, &state)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode state")
	}
	return state, nil
}
