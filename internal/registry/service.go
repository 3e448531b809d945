package registry

import "fmt"

// ServiceStatus is the lifecycle state of a service instance.
type ServiceStatus int

const (
	StatusInit ServiceStatus = iota
	StatusReady
	StatusRunning
	StatusFailed
	StatusExited
)

func (s ServiceStatus) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusFailed:
		return "FAILED"
	case StatusExited:
		return "EXIT"
	}
	return "UNKNOWN"
}

// Terminal reports whether the status is final for the life of the hub.
func (s ServiceStatus) Terminal() bool {
	return s == StatusFailed || s == StatusExited
}

// ServiceModule is one discoverable service package.  Immutable after catalog
// install except for its config cache, which grows lazily.
type ServiceModule struct {
	Name        string
	DisplayName string
	Classes     map[string]*ServiceClass  // by class name
	Configs     map[string]*ServiceConfig // by config filename, cached on first load
}

// ServiceClass is one (module, class name) pair, used as a routing and
// bookkeeping key.  Classes carry a registry-allocated id so routing sets can
// be keyed by value rather than object identity.
type ServiceClass struct {
	ID     int
	Module *ServiceModule
	Name   string

	Nodes     map[uint32]*Node            // nodes that ever requested an instance
	Instances map[uint32]*ServiceInstance // all instances of this class, live or terminal
}

// ServiceConfig is one (module, config filename) pair, loaded lazily on first
// request and immutable afterwards.
type ServiceConfig struct {
	Filename string
	Class    *ServiceClass

	SendTo      map[int]*ServiceClass // classes instances of this config may send to
	ReceiveFrom map[int]*ServiceClass // classes instances of this config may receive from
}

// ServiceInstance is one registered occurrence of a service class, owned by
// exactly one node.  Instances are never removed from the registry; terminal
// ones remain for history and console listings.
type ServiceInstance struct {
	ID     uint32
	Config *ServiceConfig
	Node   *Node
	Status ServiceStatus
}

func (si *ServiceInstance) Class() *ServiceClass {
	return si.Config.Class
}

func (si *ServiceInstance) Module() *ServiceModule {
	return si.Config.Class.Module
}

// FullName is the display form "<module display name>.<config filename>".
func (si *ServiceInstance) FullName() string {
	return fmt.Sprintf("%s.%s", si.Module().DisplayName, si.Config.Filename)
}
