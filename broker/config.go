package broker

// Settings configures which state keys survive restarts and which mutations
// stay local to the coordinator.
type Settings struct {
	// PersistentStates lists the top-level state keys restored at startup and
	// saved after every synchronized mutation.
	PersistentStates []string
	// IgnoredMutations lists the mutation types that are neither broadcast
	// nor persisted.
	IgnoredMutations []string
}

// DefaultSettings persists nothing and synchronizes every mutation.
func DefaultSettings() Settings {
	return Settings{
		PersistentStates: []string{},
		IgnoredMutations: []string{},
	}
}

type settings struct {
	persistentStates []string
	ignoredMutations map[string]struct{}
}

func compile(s Settings) settings {
	out := settings{
		persistentStates: append([]string{}, s.PersistentStates...),
		ignoredMutations: make(map[string]struct{}, len(s.IgnoredMutations)),
	}
	for _, t := range s.IgnoredMutations {
		out.ignoredMutations[t] = struct{}{}
	}
	return out
}

func (s settings) ignored(mutationType string) bool {
	_, ok := s.ignoredMutations[mutationType]
	return ok
}

func (s settings) persistent() bool {
	return len(s.persistentStates) > 0
}
