package mutation

import "reflect"

// Mutation describes a single state change, as emitted by the state container
// after a successful commit.
type Mutation struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Equal compares two mutations by type and payload structure.
func (m Mutation) Equal(other Mutation) bool {
	if m.Type != other.Type {
		return false
	}
	return reflect.DeepEqual(m.Payload, other.Payload)
}

func (m Mutation) String() string {
	return m.Type
}
