package main

import "github.com/openxen/xendbg/pkg/xdbgerr"

// VariableStore holds user-defined name/value pairs, a 64-bit value per
// name, independent of the guest. The expression evaluator that would
// consume these lives elsewhere; this is just the store. Lifecycle:
// set/delete, all lost on detach.
type VariableStore struct {
	values map[string]uint64
}

// NewVariableStore creates an empty store.
func NewVariableStore() *VariableStore {
	return &VariableStore{values: make(map[string]uint64)}
}

// Set creates or overwrites name.
func (v *VariableStore) Set(name string, value uint64) {
	v.values[name] = value
}

// Get reads a variable's value.
func (v *VariableStore) Get(name string) (uint64, error) {
	val, ok := v.values[name]
	if !ok {
		return 0, &xdbgerr.NoSuchVariable{Name: name}
	}
	return val, nil
}

// Delete removes a variable. It is not an error to delete an unset name.
func (v *VariableStore) Delete(name string) {
	delete(v.values, name)
}

// Names lists every currently-set variable name, for tab-completion.
func (v *VariableStore) Names() []string {
	out := make([]string, 0, len(v.values))
	for n := range v.values {
		out = append(out, n)
	}
	return out
}

// Clear drops every variable, called on detach.
func (v *VariableStore) Clear() {
	v.values = make(map[string]uint64)
}
