package registry

import (
	"time"
)

// HubNodeID is the well-known node id of the hub itself.  Peer ids are
// allocated above it and never reused.
const HubNodeID uint32 = 1

// NodeType identifies the kind of peer behind a connection.
type NodeType int

const (
	NodeHub NodeType = iota
	NodeHost
	NodeConsole
	NodeMonitor
)

func (t NodeType) String() string {
	switch t {
	case NodeHub:
		return "hub"
	case NodeHost:
		return "host"
	case NodeConsole:
		return "console"
	case NodeMonitor:
		return "monitor"
	}
	return "unknown"
}

// Node is one distinct peer, keyed by name.  A Node is created on the first
// inbound connection bearing a new name and lives for the rest of the hub
// process; only its connection state toggles.
type Node struct {
	ID      uint32
	Name    string
	Type    NodeType
	Address string // updated when the peer reconnects from elsewhere

	Connected       bool
	Responsive      bool
	HeartbeatMissed bool
	RTT             time.Duration // most recent round-trip measurement
	ConnCount       int           // times this name has (re)connected

	Instances map[uint32]*ServiceInstance // service instances owned by this node
}

func newNode(id uint32, name string, typ NodeType, address string) *Node {
	return &Node{
		ID:        id,
		Name:      name,
		Type:      typ,
		Address:   address,
		Instances: make(map[uint32]*ServiceInstance),
	}
}
