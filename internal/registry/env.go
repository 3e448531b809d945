package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EnvSpec describes a network environment declared in the catalog.
type EnvSpec struct {
	Name string
	Keys []string
}

// Environment is a shared blackboard that service instances post observations
// to and read evidence from.
type Environment struct {
	Name string
	Keys map[string]*EnvKey
}

// EnvKey is one typed slot of an environment.  Keys carry a wire id so peers
// can resolve "env.key" names once and use the id afterwards.
type EnvKey struct {
	ID   uint16
	Env  *Environment
	Name string

	Value     json.RawMessage
	UpdatedBy uint32 // node id of the last writer
	UpdatedAt time.Time
}

// FullName is "<environment>.<key>".
func (k *EnvKey) FullName() string {
	return fmt.Sprintf("%s.%s", k.Env.Name, k.Name)
}

// InstallEnvironments registers environments and allocates key wire ids.
// Called once at startup.
func (r *Registry) InstallEnvironments(specs []EnvSpec) {
	for _, spec := range specs {
		env := &Environment{
			Name: spec.Name,
			Keys: make(map[string]*EnvKey),
		}
		for _, keyName := range spec.Keys {
			key := &EnvKey{
				ID:   r.nextEnvKeyID,
				Env:  env,
				Name: keyName,
			}
			r.nextEnvKeyID++
			env.Keys[keyName] = key
			r.envKeysByID[key.ID] = key
		}
		r.envs[spec.Name] = env
	}
}

// EnvNames returns the loaded environment names, sorted.
func (r *Registry) EnvNames() []string {
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvKeyNames returns every key as "env.key", sorted.
func (r *Registry) EnvKeyNames() []string {
	var names []string
	for _, key := range r.envKeysByID {
		names = append(names, key.FullName())
	}
	sort.Strings(names)
	return names
}

// EnvKeyID resolves an "env.key" name to its wire id.
func (r *Registry) EnvKeyID(fullName string) (uint16, error) {
	for _, key := range r.envKeysByID {
		if key.FullName() == fullName {
			return key.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEnvKey, fullName)
}

// EnvTell records an observation posted by a node.
func (r *Registry) EnvTell(keyID uint16, nodeID uint32, value json.RawMessage) error {
	key, ok := r.envKeysByID[keyID]
	if !ok {
		return fmt.Errorf("%w: key id %d", ErrUnknownEnvKey, keyID)
	}
	key.Value = value
	key.UpdatedBy = nodeID
	key.UpdatedAt = time.Now()
	return nil
}

// EnvAsk returns the current evidence for a key.  Unset keys return JSON null.
func (r *Registry) EnvAsk(keyID uint16) (json.RawMessage, error) {
	key, ok := r.envKeysByID[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: key id %d", ErrUnknownEnvKey, keyID)
	}
	if key.Value == nil {
		return json.RawMessage("null"), nil
	}
	return key.Value, nil
}
