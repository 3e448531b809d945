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

package hub

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"corral/internal/registry"
	"corral/internal/wire"
)

// handleFrame dispatches one inbound frame on the event loop.  Connections
// that have not introduced themselves may only send an introduction.
func (d *Daemon) handleFrame(pc *peerConn, f *wire.Frame) {
	if pc.link == nil {
		if f.Category == wire.CategoryRequest && f.Protocol == wire.ProtoHello {
			d.handleHello(pc, f)
			return
		}
		d.logger.Warn().
			Str("remote", pc.remoteAddr()).
			Str("category", f.Category.String()).
			Str("protocol", f.Protocol.String()).
			Msg("Closing connection that sent traffic before introducing itself")
		d.rejectConn(pc, f)
		return
	}

	link := pc.link
	switch f.Category {
	case wire.CategoryResponse:
		d.handleResponse(link, f)
	case wire.CategoryNack:
		d.handleNack(link, f)
	case wire.CategoryRequest:
		d.handleRequest(link, f)
	}
}

func (d *Daemon) handleRequest(link *nodeLink, f *wire.Frame) {
	switch f.Protocol {
	case wire.ProtoLogMessage:
		d.handleLogMessage(link, f)
	case wire.ProtoServiceRegister:
		d.handleServiceRegister(link, f)
	case wire.ProtoServiceSpawned:
		d.handleServiceSpawned(link, f)
	case wire.ProtoServiceStarted:
		d.handleServiceStarted(link, f)
	case wire.ProtoServiceStopped:
		d.handleServiceStopped(link, f)
	case wire.ProtoServiceExited:
		d.handleServiceExited(link, f)
	case wire.ProtoServiceSendAll:
		d.handleSendAll(link, f)
	case wire.ProtoServiceSendTo:
		d.handleSendTo(link, f)
	case wire.ProtoEnvTell:
		d.handleEnvTell(link, f)
	case wire.ProtoEnvAsk:
		d.handleEnvAsk(link, f)
	case wire.ProtoEnvKeyID:
		d.handleEnvKeyID(link, f)
	case wire.ProtoConsoleCommand:
		d.handleConsoleCommand(link, f)
	default:
		d.logger.Warn().
			Uint32("node_id", link.node.ID).
			Str("protocol", f.Protocol.String()).
			Msg("Refusing request with unhandled protocol")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
	}
}

// ack answers a request that carries no response payload.
func (d *Daemon) ack(link *nodeLink, f *wire.Frame) {
	link.pc.writeFrame(&wire.Frame{
		Category: wire.CategoryResponse,
		Protocol: f.Protocol,
		ReqNum:   f.ReqNum,
	})
}

// respond answers a request with a payload.
func (d *Daemon) respond(link *nodeLink, f *wire.Frame, payload []byte) {
	link.pc.writeFrame(&wire.Frame{
		Category: wire.CategoryResponse,
		Protocol: f.Protocol,
		ReqNum:   f.ReqNum,
		Payload:  payload,
	})
}

// unmarshalOrNack decodes a request payload, refusing the request when the
// payload does not parse.
func unmarshalOrNack(pc *peerConn, f *wire.Frame, v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		pc.d.logger.Warn().
			Err(err).
			Str("remote", pc.remoteAddr()).
			Str("protocol", f.Protocol.String()).
			Msg("Refusing request with malformed payload")
		pc.writeFrame(wire.Nack(f.ReqNum))
		return err
	}
	return nil
}

// resolveOwned looks up a service instance a node claims to report on.
// The instance must exist and belong to the reporting node.
func (d *Daemon) resolveOwned(link *nodeLink, serviceID uint32) (*registry.ServiceInstance, error) {
	si, ok := d.reg.InstanceByID(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", registry.ErrUnknownInstance, serviceID)
	}
	if si.Node != link.node {
		return nil, fmt.Errorf("%w: service %d belongs to node %d, not node %d",
			registry.ErrNotOwner, serviceID, si.Node.ID, link.node.ID)
	}
	return si, nil
}

// handleLogMessage relays a node's log event: it is logged locally with
// the origin node's identity, counted toward scenario status, and fanned
// out to monitors.
func (d *Daemon) handleLogMessage(link *nodeLink, f *wire.Frame) {
	var msg wire.LogMessage
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	level, err := zerolog.ParseLevel(msg.Level)
	if err != nil {
		d.logger.Warn().
			Uint32("node_id", link.node.ID).
			Str("level", msg.Level).
			Msg("Refusing log message with unknown level")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	switch level {
	case zerolog.WarnLevel:
		d.reg.CountWarning()
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		d.reg.CountError()
	}

	d.logger.WithLevel(level).
		Str("node_name", link.node.Name).
		Uint32("node_id", link.node.ID).
		Msg(msg.Message)
	d.fanOutLog(link.node.ID, link.node.Name, msg.Level, msg.Message)

	d.ack(link, f)
}

// handleServiceRegister creates a service instance for one a host started
// on its own, and reports the allocated id back.
func (d *Daemon) handleServiceRegister(link *nodeLink, f *wire.Frame) {
	var msg wire.ServiceRegister
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	if link.node.Type != registry.NodeHost {
		d.logger.Warn().
			Uint32("node_id", link.node.ID).
			Str("node_type", link.node.Type.String()).
			Msg("Refusing service registration from a non-host node")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	si, err := d.reg.NewServiceInstance(msg.Service, msg.Config, link.node)
	if err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Str("service", msg.Service).
			Str("config", msg.Config).
			Err(err).
			Msg("Service registration failed")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.dist.Info().
		Str("service", si.FullName()).
		Uint32("service_id", si.ID).
		Uint32("node_id", link.node.ID).
		Msg("Service registered by node")

	d.respond(link, f, wire.MustMarshal(wire.ServiceRegistered{
		ServiceID:   si.ID,
		DisplayName: si.Module().DisplayName,
	}))
}

func (d *Daemon) handleServiceSpawned(link *nodeLink, f *wire.Frame) {
	var msg wire.ServiceSpawned
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	si, err := d.resolveOwned(link, msg.ServiceID)
	if err != nil {
		d.dist.Warn().Err(err).Msg("Refusing spawn report")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.reg.InstanceSpawned(si, msg.Instantiated)
	if msg.Instantiated {
		d.dist.Info().
			Str("service", si.FullName()).
			Uint32("service_id", si.ID).
			Msg("Service instantiated and ready")
	} else {
		d.dist.Warn().
			Str("service", si.FullName()).
			Uint32("service_id", si.ID).
			Msg("Service failed to instantiate")
	}

	d.ack(link, f)
}

func (d *Daemon) handleServiceStarted(link *nodeLink, f *wire.Frame) {
	var msg wire.InstanceRef
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	si, err := d.resolveOwned(link, msg.ServiceID)
	if err == nil {
		err = d.reg.InstanceStarted(si)
	}
	if err != nil {
		d.dist.Warn().Err(err).Msg("Refusing start report")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.dist.Info().
		Str("service", si.FullName()).
		Uint32("service_id", si.ID).
		Msg("Service started")
	d.ack(link, f)
}

func (d *Daemon) handleServiceStopped(link *nodeLink, f *wire.Frame) {
	var msg wire.InstanceRef
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	si, err := d.resolveOwned(link, msg.ServiceID)
	if err == nil {
		err = d.reg.InstanceStopped(si)
	}
	if err != nil {
		d.dist.Warn().Err(err).Msg("Refusing stop report")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.dist.Info().
		Str("service", si.FullName()).
		Uint32("service_id", si.ID).
		Msg("Service stopped")
	d.ack(link, f)
}

func (d *Daemon) handleServiceExited(link *nodeLink, f *wire.Frame) {
	var msg wire.ServiceExited
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	si, err := d.resolveOwned(link, msg.ServiceID)
	if err != nil {
		d.dist.Warn().Err(err).Msg("Refusing exit report")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.reg.InstanceExited(si, msg.Failed)
	if msg.Failed {
		d.dist.Warn().
			Str("service", si.FullName()).
			Uint32("service_id", si.ID).
			Msg("Service terminated with failure")
	} else {
		d.dist.Info().
			Str("service", si.FullName()).
			Uint32("service_id", si.ID).
			Msg("Service exited")
	}

	d.ack(link, f)
}

func (d *Daemon) handleEnvTell(link *nodeLink, f *wire.Frame) {
	var msg wire.EnvTell
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	if err := d.reg.EnvTell(msg.KeyID, link.node.ID, msg.Value); err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Uint16("key_id", msg.KeyID).
			Err(err).
			Msg("Refusing environment update")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.ack(link, f)
}

func (d *Daemon) handleEnvAsk(link *nodeLink, f *wire.Frame) {
	var msg wire.EnvAsk
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	value, err := d.reg.EnvAsk(msg.KeyID)
	if err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Uint16("key_id", msg.KeyID).
			Err(err).
			Msg("Refusing environment query")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.respond(link, f, wire.MustMarshal(wire.EnvValue{Value: value}))
}

func (d *Daemon) handleEnvKeyID(link *nodeLink, f *wire.Frame) {
	var msg wire.EnvKeyLookup
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	keyID, err := d.reg.EnvKeyID(msg.Name)
	if err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Str("key", msg.Name).
			Err(err).
			Msg("Refusing environment key lookup")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.respond(link, f, wire.MustMarshal(wire.EnvKeyRef{KeyID: keyID}))
}

func (d *Daemon) handleConsoleCommand(link *nodeLink, f *wire.Frame) {
	if link.node.Type != registry.NodeConsole {
		d.logger.Warn().
			Uint32("node_id", link.node.ID).
			Str("node_type", link.node.Type.String()).
			Msg("Refusing console command from a non-console node")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	var msg wire.ConsoleCommand
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	result := d.console.ProcessCommand(link.node.ID, msg.Line)
	d.respond(link, f, wire.MustMarshal(wire.ConsoleReply{Text: result}))
}
