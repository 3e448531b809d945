package hub

import (
	"encoding/json"
	"fmt"

	"corral/internal/registry"
	"corral/internal/wire"
)

// resolveSender validates that a routed message really comes from the
// instance it claims to: the instance must exist and the sending node must
// own it.
func (d *Daemon) resolveSender(link *nodeLink, fromID uint32) (*registry.ServiceInstance, error) {
	si, ok := d.reg.InstanceByID(fromID)
	if !ok {
		return nil, fmt.Errorf("%w: sender %d", registry.ErrUnknownInstance, fromID)
	}
	if si.Node != link.node {
		return nil, fmt.Errorf("%w: service %d belongs to node %d, not node %d",
			registry.ErrNotOwner, fromID, si.Node.ID, link.node.ID)
	}
	return si, nil
}

// handleSendAll routes a message from one service instance to every
// compatible active receiver.
func (d *Daemon) handleSendAll(link *nodeLink, f *wire.Frame) {
	var msg wire.SendAll
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	sender, err := d.resolveSender(link, msg.FromID)
	if err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Err(err).
			Msg("Refusing send-all")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.ack(link, f)

	delivered := 0
	for _, rcv := range d.reg.ReceiversFor(sender) {
		if rcv == sender {
			continue
		}
		if d.deliver(sender, rcv, msg.Data) {
			delivered++
		}
	}

	d.logger.Debug().
		Uint32("from", sender.ID).
		Int("delivered", delivered).
		Msg("Routed send-all message")
}

// handleSendTo routes a message from one service instance to an explicit
// set of target instances.  Each target must pass the same compatibility
// check as send-all; unreachable or ineligible targets are skipped with a
// warning.
func (d *Daemon) handleSendTo(link *nodeLink, f *wire.Frame) {
	var msg wire.SendTo
	if err := unmarshalOrNack(link.pc, f, &msg); err != nil {
		return
	}

	sender, err := d.resolveSender(link, msg.FromID)
	if err != nil {
		d.dist.Warn().
			Uint32("node_id", link.node.ID).
			Err(err).
			Msg("Refusing send-to")
		link.pc.writeFrame(wire.Nack(f.ReqNum))
		return
	}

	d.ack(link, f)

	for _, targetID := range msg.Targets {
		rcv, ok := d.reg.InstanceByID(targetID)
		if !ok {
			d.dist.Warn().
				Uint32("from", sender.ID).
				Uint32("to", targetID).
				Msg("Skipping send-to target, no such service instance")
			continue
		}
		if !d.reg.IsActiveReceiver(sender, rcv) {
			d.dist.Warn().
				Uint32("from", sender.ID).
				Uint32("to", targetID).
				Msg("Skipping send-to target, not compatible with sender")
			continue
		}
		d.deliver(sender, rcv, msg.Data)
	}
}

// deliver forwards one routed message to the node hosting the target
// instance.  Reports whether the message was handed to a live connection.
func (d *Daemon) deliver(sender, rcv *registry.ServiceInstance, data json.RawMessage) bool {
	link, ok := d.links[rcv.Node.ID]
	if !ok || link.pc == nil {
		d.dist.Warn().
			Uint32("from", sender.ID).
			Uint32("to", rcv.ID).
			Uint32("node_id", rcv.Node.ID).
			Msg("Skipping message delivery, target node is offline")
		return false
	}

	d.sendRequest(link, wire.ProtoServiceDeliver, wire.MustMarshal(wire.ServiceDeliver{
		FromID: sender.ID,
		ToID:   rcv.ID,
		Data:   data,
	}), fmt.Sprintf("message delivery (from service %d to service %d)", sender.ID, rcv.ID))
	return true
}
