package wire

import (
	"encoding/json"
	"fmt"
)

// Payload bodies are JSON.  Request and response shapes per protocol id; an
// empty payload stands in for protocols with nothing to carry.

// Hello is the first request on every connection.
type Hello struct {
	Name      string `json:"name"`
	Type      uint16 `json:"type"`
	ConnCount int    `json:"conn_count"` // times this peer believes it has connected
}

// HelloAck assigns the peer its node id.
type HelloAck struct {
	NodeID  uint32 `json:"node_id"`
	HubType uint16 `json:"hub_type"`
}

// Heartbeat is a hub-initiated request; the peer echoes the payload back
// unchanged so the hub can compute the round trip.
type Heartbeat struct {
	SentAt int64 `json:"sent_at"` // hub-local nanosecond timestamp
}

// LogMessage forwards a peer's log event to the hub.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// MonitorLog fans a log event out to monitor nodes.
type MonitorLog struct {
	NodeID   uint32 `json:"node_id"`
	NodeName string `json:"node_name"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

// ServiceRegister asks the hub for a new service instance.
type ServiceRegister struct {
	Service string `json:"service"`
	Config  string `json:"config"`
}

// ServiceRegistered is the hub's answer to ServiceRegister.
type ServiceRegistered struct {
	ServiceID   uint32 `json:"service_id"`
	DisplayName string `json:"display_name"`
}

// SendAll routes a payload to every compatible active receiver.
type SendAll struct {
	FromID uint32          `json:"from_id"`
	Data   json.RawMessage `json:"data"`
}

// SendTo routes a payload to an explicit list of target instances.
type SendTo struct {
	FromID  uint32          `json:"from_id"`
	Targets []uint32        `json:"targets"`
	Data    json.RawMessage `json:"data"`
}

// ServiceDeliver carries a routed payload hub -> host.
type ServiceDeliver struct {
	FromID uint32          `json:"from_id"`
	ToID   uint32          `json:"to_id"`
	Data   json.RawMessage `json:"data"`
}

// InstanceRef identifies a service instance in started/stopped reports and in
// hub-initiated start/stop requests.
type InstanceRef struct {
	ServiceID uint32 `json:"service_id"`
}

// ServiceSpawned reports spawn completion.
type ServiceSpawned struct {
	ServiceID    uint32 `json:"service_id"`
	Instantiated bool   `json:"instantiated"`
}

// ServiceExited reports a terminal exit.
type ServiceExited struct {
	ServiceID uint32 `json:"service_id"`
	Failed    bool   `json:"failed"`
}

// SpawnService asks a host to spawn a new instance, hub -> host.
type SpawnService struct {
	Service     string `json:"service"`
	Config      string `json:"config"`
	ServiceID   uint32 `json:"service_id"`
	DisplayName string `json:"display_name"`
}

// ConsoleCommand carries one console input line.
type ConsoleCommand struct {
	Line string `json:"line"`
}

// ConsoleReply carries the formatted command result.
type ConsoleReply struct {
	Text string `json:"text"`
}

// Welcome is the hub's answer to a console-welcome request.
type Welcome struct {
	HubName string `json:"hub_name"`
	Text    string `json:"text"`
}

// EnvTell posts an observation to an environment key.
type EnvTell struct {
	KeyID uint16          `json:"key_id"`
	Value json.RawMessage `json:"value"`
}

// EnvAsk reads the evidence for an environment key.
type EnvAsk struct {
	KeyID uint16 `json:"key_id"`
}

// EnvValue is the hub's answer to EnvAsk.
type EnvValue struct {
	Value json.RawMessage `json:"value"`
}

// EnvKeyLookup resolves an "env.key" name to its wire id.
type EnvKeyLookup struct {
	Name string `json:"name"`
}

// EnvKeyRef is the hub's answer to EnvKeyLookup.
type EnvKeyRef struct {
	KeyID uint16 `json:"key_id"`
}

// MustMarshal encodes a payload struct.  Payload types contain nothing that
// can fail to marshal, so failure is a bug.
func MustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("wire: payload marshal: %v", err))
	}
	return data
}
