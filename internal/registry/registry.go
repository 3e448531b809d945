// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"fmt"
	"sort"
)

// ModuleSpec describes a discovered service module, as reported by the
// catalog loader at startup.
type ModuleSpec struct {
	Name        string
	DisplayName string
	Classes     []string
}

// ConfigSpec is a parsed service configuration descriptor.
type ConfigSpec struct {
	Class       string
	SendTo      []string
	ReceiveFrom []string
}

// ConfigSource lazily loads service configuration descriptors by module name
// and config filename.  DirCatalog is the disk-backed implementation.
type ConfigSource interface {
	LoadConfig(module, filename string) (*ConfigSpec, error)
}

// Registry holds all hub network state: nodes, service modules and instances,
// the pub/sub routing table, environments, and scenario bookkeeping.  It is
// pure data with invariant-preserving mutators and performs no I/O beyond the
// injected ConfigSource.  All access is confined to the hub event loop, so no
// locking is done here.
type Registry struct {
	src ConfigSource

	nodesByID   map[uint32]*Node
	nodesByName map[string]*Node
	modules     map[string]*ServiceModule
	instances   map[uint32]*ServiceInstance

	activeNodes  map[uint32]*Node
	activeByType map[NodeType]map[uint32]*Node

	// Instances eligible to receive routed messages, keyed by the id of the
	// class messages are sent *from*.
	activeReceivers map[int]map[uint32]*ServiceInstance

	envs         map[string]*Environment
	envKeysByID  map[uint16]*EnvKey
	nextEnvKeyID uint16

	nextNodeID     uint32
	nextInstanceID uint32
	nextClassID    int

	scn scenarioState

	logWarnings int
	logErrors   int
}

// New creates an empty registry.  Service modules and environments are
// installed separately from the catalog.
func New(src ConfigSource, params ScenarioParams) *Registry {
	r := &Registry{
		src:             src,
		nodesByID:       make(map[uint32]*Node),
		nodesByName:     make(map[string]*Node),
		modules:         make(map[string]*ServiceModule),
		instances:       make(map[uint32]*ServiceInstance),
		activeNodes:     make(map[uint32]*Node),
		activeByType:    make(map[NodeType]map[uint32]*Node),
		activeReceivers: make(map[int]map[uint32]*ServiceInstance),
		envs:            make(map[string]*Environment),
		envKeysByID:     make(map[uint16]*EnvKey),
		nextEnvKeyID:    1,
		nextNodeID:      HubNodeID + 1,
		nextInstanceID:  1,
		nextClassID:     1,
	}
	for _, t := range []NodeType{NodeHost, NodeConsole, NodeMonitor} {
		r.activeByType[t] = make(map[uint32]*Node)
	}
	r.scn.init(params)
	return r
}

// InstallModules registers discovered service modules and their classes.
// Called once at startup, before any peer connects.
func (r *Registry) InstallModules(specs []ModuleSpec) {
	for _, spec := range specs {
		mod := &ServiceModule{
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Classes:     make(map[string]*ServiceClass),
			Configs:     make(map[string]*ServiceConfig),
		}
		for _, className := range spec.Classes {
			cls := &ServiceClass{
				ID:        r.nextClassID,
				Module:    mod,
				Name:      className,
				Nodes:     make(map[uint32]*Node),
				Instances: make(map[uint32]*ServiceInstance),
			}
			r.nextClassID++
			mod.Classes[className] = cls
			r.activeReceivers[cls.ID] = make(map[uint32]*ServiceInstance)
		}
		r.modules[spec.Name] = mod
	}
}

// ClassNames returns "<display name>.<class>" for every installed class.
func (r *Registry) ClassNames() []string {
	var names []string
	for _, mod := range r.modules {
		for className := range mod.Classes {
			names = append(names, fmt.Sprintf("%s.%s", mod.DisplayName, className))
		}
	}
	sort.Strings(names)
	return names
}

// NewHubNode inserts the hub's own node under the reserved hub id.  Called
// once at startup.
func (r *Registry) NewHubNode(name, address string) *Node {
	if _, dup := r.nodesByID[HubNodeID]; dup {
		panic("registry: hub node already created")
	}

	n := newNode(HubNodeID, name, NodeHub, address)
	n.Connected = true
	n.Responsive = true
	n.ConnCount = 1
	r.nodesByID[HubNodeID] = n
	r.nodesByName[name] = n
	return n
}

// NewNode allocates the next node id and inserts the node into both lookup
// maps.  Duplicate ids or names indicate a hub bug and panic.
func (r *Registry) NewNode(name string, typ NodeType, address string) *Node {
	id := r.nextNodeID
	r.nextNodeID++

	if _, dup := r.nodesByID[id]; dup {
		panic(fmt.Sprintf("registry: node id %d already allocated", id))
	}
	if _, dup := r.nodesByName[name]; dup {
		panic(fmt.Sprintf("registry: node name %q already registered", name))
	}

	n := newNode(id, name, typ, address)
	r.nodesByID[id] = n
	r.nodesByName[name] = n
	return n
}

func (r *Registry) NodeByID(id uint32) (*Node, bool) {
	n, ok := r.nodesByID[id]
	return n, ok
}

func (r *Registry) NodeByName(name string) (*Node, bool) {
	n, ok := r.nodesByName[name]
	return n, ok
}

// Nodes returns all known nodes ordered by id.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodesByID))
	for _, n := range r.nodesByID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkActive records a connect transition: the node joins the active sets and
// its liveness state resets.  Callers invoke this exactly once per transition.
func (r *Registry) MarkActive(n *Node) {
	n.Connected = true
	n.Responsive = true
	n.HeartbeatMissed = false
	n.ConnCount++

	r.activeNodes[n.ID] = n
	if set, ok := r.activeByType[n.Type]; ok {
		set[n.ID] = n
	}
}

// MarkInactive records a disconnect transition.
func (r *Registry) MarkInactive(n *Node) {
	n.Connected = false

	delete(r.activeNodes, n.ID)
	if set, ok := r.activeByType[n.Type]; ok {
		delete(set, n.ID)
	}
}

// ActiveNodes returns all currently connected nodes ordered by id.
func (r *Registry) ActiveNodes() []*Node {
	return sortNodes(r.activeNodes)
}

// ActiveByType returns the currently connected nodes of the given type.
func (r *Registry) ActiveByType(typ NodeType) []*Node {
	return sortNodes(r.activeByType[typ])
}

// ActiveCount returns the number of connected nodes of the given type.
func (r *Registry) ActiveCount(typ NodeType) int {
	return len(r.activeByType[typ])
}

func sortNodes(set map[uint32]*Node) []*Node {
	out := make([]*Node, 0, len(set))
	for _, n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewServiceInstance resolves (lazily loading if needed) the service config
// and allocates a new instance owned by node.  The config is cached on the
// module after first successful load.
func (r *Registry) NewServiceInstance(serviceName, configFilename string, node *Node) (*ServiceInstance, error) {
	mod, ok := r.modules[serviceName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, serviceName)
	}

	cfg, ok := mod.Configs[configFilename]
	if !ok {
		spec, err := r.src.LoadConfig(serviceName, configFilename)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q config %q: %v", ErrConfigLoad, serviceName, configFilename, err)
		}

		cls, ok := mod.Classes[spec.Class]
		if !ok {
			return nil, fmt.Errorf("%w: class %q in %s", ErrUnknownServiceClass, spec.Class, configFilename)
		}

		cfg = &ServiceConfig{
			Filename:    configFilename,
			Class:       cls,
			SendTo:      make(map[int]*ServiceClass),
			ReceiveFrom: make(map[int]*ServiceClass),
		}
		for _, name := range spec.SendTo {
			sc, ok := mod.Classes[name]
			if !ok {
				return nil, fmt.Errorf("%w: send_to class %q in %s", ErrUnknownServiceClass, name, configFilename)
			}
			cfg.SendTo[sc.ID] = sc
		}
		for _, name := range spec.ReceiveFrom {
			sc, ok := mod.Classes[name]
			if !ok {
				return nil, fmt.Errorf("%w: receive_from class %q in %s", ErrUnknownServiceClass, name, configFilename)
			}
			cfg.ReceiveFrom[sc.ID] = sc
		}
		mod.Configs[configFilename] = cfg
	}

	id := r.nextInstanceID
	r.nextInstanceID++
	if _, dup := r.instances[id]; dup {
		panic(fmt.Sprintf("registry: service instance id %d already allocated", id))
	}

	si := &ServiceInstance{
		ID:     id,
		Config: cfg,
		Node:   node,
		Status: StatusInit,
	}

	node.Instances[id] = si
	cfg.Class.Instances[id] = si
	cfg.Class.Nodes[node.ID] = node
	r.instances[id] = si

	return si, nil
}

func (r *Registry) InstanceByID(id uint32) (*ServiceInstance, bool) {
	si, ok := r.instances[id]
	return si, ok
}

// Instances returns all registered service instances ordered by id.
func (r *Registry) Instances() []*ServiceInstance {
	out := make([]*ServiceInstance, 0, len(r.instances))
	for _, si := range r.instances {
		out = append(out, si)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstanceSpawned records the owning node's spawn report.  An instantiated
// instance becomes READY and subscribes to the routing table; otherwise it is
// FAILED.
func (r *Registry) InstanceSpawned(si *ServiceInstance, instantiated bool) {
	if instantiated {
		r.subscribe(si)
		si.Status = StatusReady
	} else {
		si.Status = StatusFailed
	}
}

// InstanceStarted records a "service started" report.  Only READY instances
// may start.
func (r *Registry) InstanceStarted(si *ServiceInstance) error {
	if si.Status != StatusReady {
		return fmt.Errorf("%w: service %d is %s, not READY", ErrWrongStatus, si.ID, si.Status)
	}
	si.Status = StatusRunning
	return nil
}

// InstanceStopped records a "service stopped" report.  Only RUNNING instances
// may stop.
func (r *Registry) InstanceStopped(si *ServiceInstance) error {
	if si.Status != StatusRunning {
		return fmt.Errorf("%w: service %d is %s, not RUNNING", ErrWrongStatus, si.ID, si.Status)
	}
	si.Status = StatusReady
	return nil
}

// InstanceExited records a terminal exit report and unsubscribes the instance
// from every receiver set it was in.
func (r *Registry) InstanceExited(si *ServiceInstance, failed bool) {
	r.unsubscribe(si)
	if failed {
		si.Status = StatusFailed
	} else {
		si.Status = StatusExited
	}
}

func (r *Registry) subscribe(si *ServiceInstance) {
	for _, cls := range si.Config.ReceiveFrom {
		r.activeReceivers[cls.ID][si.ID] = si
	}
}

func (r *Registry) unsubscribe(si *ServiceInstance) {
	for _, cls := range si.Config.ReceiveFrom {
		delete(r.activeReceivers[cls.ID], si.ID)
	}
}

// ReceiversFor returns the instances eligible to receive messages from the
// given sender, ordered by instance id.  Compatibility is required in both
// directions: the receiver must be subscribed to the sender's class, and the
// receiver's class must be in the sender's send_to set.
func (r *Registry) ReceiversFor(sender *ServiceInstance) []*ServiceInstance {
	set := r.activeReceivers[sender.Class().ID]
	out := make([]*ServiceInstance, 0, len(set))
	for _, si := range set {
		if _, ok := sender.Config.SendTo[si.Class().ID]; !ok {
			continue
		}
		out = append(out, si)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsActiveReceiver reports whether si is eligible to receive messages from
// the given sender, applying the same two-way compatibility check as
// ReceiversFor.
func (r *Registry) IsActiveReceiver(sender, si *ServiceInstance) bool {
	if _, ok := sender.Config.SendTo[si.Class().ID]; !ok {
		return false
	}
	_, ok := r.activeReceivers[sender.Class().ID][si.ID]
	return ok
}

// CountWarning and CountError feed the distributed-log counters used by
// scenario status.

func (r *Registry) CountWarning() { r.logWarnings++ }

func (r *Registry) CountError() { r.logErrors++ }
