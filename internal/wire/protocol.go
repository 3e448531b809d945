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

// Package wire implements the framed hub protocol: a fixed binary header
// (total length, category, protocol id, request number) followed by a JSON
// payload specific to the category and protocol id.
package wire

// Category classifies a frame.
type Category uint16

const (
	CategoryRequest  Category = 1
	CategoryResponse Category = 2
	CategoryNack     Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryRequest:
		return "request"
	case CategoryResponse:
		return "response"
	case CategoryNack:
		return "nack"
	}
	return "unknown"
}

// ProtocolID selects the handler for a frame.  NACK frames carry ProtoNone.
type ProtocolID uint16

const (
	ProtoNone ProtocolID = iota

	// peer -> hub requests
	ProtoHello
	ProtoLogMessage
	ProtoServiceRegister
	ProtoServiceSendAll
	ProtoServiceSendTo
	ProtoServiceStarted
	ProtoServiceStopped
	ProtoServiceSpawned
	ProtoServiceExited
	ProtoEnvTell
	ProtoEnvAsk
	ProtoEnvKeyID
	ProtoConsoleWelcome
	ProtoConsoleCommand

	// hub -> peer requests
	ProtoHeartbeat
	ProtoScenarioStart
	ProtoScenarioStop
	ProtoMonitorLog
	ProtoServiceDeliver
	ProtoServiceSpawn
	ProtoServiceStart
	ProtoServiceStop
)

func (p ProtocolID) String() string {
	switch p {
	case ProtoNone:
		return "none"
	case ProtoHello:
		return "hello"
	case ProtoLogMessage:
		return "log_message"
	case ProtoServiceRegister:
		return "service_register"
	case ProtoServiceSendAll:
		return "service_send_all"
	case ProtoServiceSendTo:
		return "service_send_to"
	case ProtoServiceStarted:
		return "service_started"
	case ProtoServiceStopped:
		return "service_stopped"
	case ProtoServiceSpawned:
		return "service_spawned"
	case ProtoServiceExited:
		return "service_exited"
	case ProtoEnvTell:
		return "env_tell"
	case ProtoEnvAsk:
		return "env_ask"
	case ProtoEnvKeyID:
		return "env_key_id"
	case ProtoConsoleWelcome:
		return "console_welcome"
	case ProtoConsoleCommand:
		return "console_command"
	case ProtoHeartbeat:
		return "heartbeat"
	case ProtoScenarioStart:
		return "scenario_start"
	case ProtoScenarioStop:
		return "scenario_stop"
	case ProtoMonitorLog:
		return "monitor_log"
	case ProtoServiceDeliver:
		return "service_deliver"
	case ProtoServiceSpawn:
		return "service_spawn"
	case ProtoServiceStart:
		return "service_start"
	case ProtoServiceStop:
		return "service_stop"
	}
	return "unknown"
}

// Node type codes carried in hello frames.
const (
	NodeTypeHub     uint16 = 0
	NodeTypeHost    uint16 = 1
	NodeTypeConsole uint16 = 2
	NodeTypeMonitor uint16 = 3
)
