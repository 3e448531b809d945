package registry

import "errors"

// Domain errors surfaced to peers as request failures or to console users as
// formatted strings.  Protocol anomalies and invariant violations are handled
// elsewhere (connection close and panic, respectively).
var (
	ErrUnknownService      = errors.New("service does not exist")
	ErrUnknownServiceClass = errors.New("service class does not exist")
	ErrConfigLoad          = errors.New("service configuration could not be loaded")
	ErrUnknownInstance     = errors.New("service instance does not exist")
	ErrNotOwner            = errors.New("service instance is assigned to a different node")
	ErrWrongStatus         = errors.New("service instance is not in the required state")
	ErrUnknownEnvKey       = errors.New("environment key does not exist")
)
