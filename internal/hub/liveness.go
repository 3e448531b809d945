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
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"corral/internal/registry"
	"corral/internal/wire"
)

// completedCacheSize bounds the per-link memory spent remembering finished
// request numbers, which lets late or duplicate responses be told apart
// from unsolicited ones.
const completedCacheSize = 512

type pendingRequest struct {
	frame *wire.Frame
	note  string
}

// nodeLink is the hub's per-node connection state.  Links outlive
// individual connections: requests that were never acknowledged stay
// pending across a disconnect and are flushed again on reconnect.
type nodeLink struct {
	node *registry.Node
	pc   *peerConn // nil while the node is offline

	nextReq   uint32
	pending   map[uint32]pendingRequest
	completed *lru.Cache[uint32, struct{}]

	hbTimer       *time.Timer
	hbOutstanding bool
	hbReqNum      uint32
	hbSentAt      time.Time
	hbLastTick    time.Time
}

func (d *Daemon) ensureLink(n *registry.Node) *nodeLink {
	if link, ok := d.links[n.ID]; ok {
		return link
	}

	completed, err := lru.New[uint32, struct{}](completedCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}

	link := &nodeLink{
		node:      n,
		nextReq:   1,
		pending:   make(map[uint32]pendingRequest),
		completed: completed,
	}
	d.links[n.ID] = link
	return link
}

func (l *nodeLink) stopHeartbeat() {
	if l.hbTimer != nil {
		l.hbTimer.Stop()
		l.hbTimer = nil
	}
}

// handleHello performs connection arbitration for an introduction request.
// A responsive existing connection wins over the new one; an unresponsive
// one is displaced.  Rejected connections get a NACK and are closed.
func (d *Daemon) handleHello(pc *peerConn, f *wire.Frame) {
	var hello wire.Hello
	if err := unmarshalOrNack(pc, f, &hello); err != nil {
		return
	}

	typ, ok := nodeTypeFromWire(hello.Type)
	if !ok || typ == registry.NodeHub {
		d.logger.Warn().
			Str("remote", pc.remoteAddr()).
			Uint16("node_type", hello.Type).
			Msg("Rejecting introduction with invalid node type")
		d.rejectConn(pc, f)
		return
	}

	if hello.Name == d.config.Hub.Name {
		d.logger.Warn().
			Str("remote", pc.remoteAddr()).
			Str("node_name", hello.Name).
			Msg("Rejecting introduction using the hub's own name")
		d.rejectConn(pc, f)
		return
	}

	node, known := d.reg.NodeByName(hello.Name)
	if known {
		if node.Type != typ {
			d.logger.Warn().
				Str("node_name", hello.Name).
				Str("registered_type", node.Type.String()).
				Str("claimed_type", typ.String()).
				Msg("Rejecting introduction with mismatched node type")
			d.rejectConn(pc, f)
			return
		}

		// Hosts report how many times they believe they have connected.
		// A mismatch means the hub and the host disagree about session
		// history, usually because the host process restarted, so the
		// connection is refused rather than resumed with stale state.
		if typ == registry.NodeHost && hello.ConnCount != node.ConnCount+1 {
			d.dist.Warn().
				Str("node_name", hello.Name).
				Int("reported", hello.ConnCount).
				Int("expected", node.ConnCount+1).
				Msg("Rejecting host with mismatched connection count")
			d.rejectConn(pc, f)
			return
		}

		if node.Connected {
			if node.Responsive {
				d.logger.Warn().
					Str("node_name", hello.Name).
					Str("remote", pc.remoteAddr()).
					Msg("Rejecting duplicate connection for responsive node")
				d.rejectConn(pc, f)
				return
			}

			// The existing connection has stopped answering heartbeats, so
			// the new one displaces it.
			d.logger.Warn().
				Str("node_name", hello.Name).
				Msg("Displacing unresponsive connection with new one")
			d.dropConn(node)
		}
	} else {
		node = d.reg.NewNode(hello.Name, typ, pc.remoteAddr())
	}

	node.Address = pc.remoteAddr()
	d.reg.MarkActive(node)

	link := d.ensureLink(node)
	link.pc = pc
	pc.link = link

	pc.writeFrame(&wire.Frame{
		Category: wire.CategoryResponse,
		Protocol: wire.ProtoHello,
		ReqNum:   f.ReqNum,
		Payload: wire.MustMarshal(wire.HelloAck{
			NodeID:  node.ID,
			HubType: wire.NodeTypeHub,
		}),
	})

	d.startHeartbeat(link)

	// Flush before the connect event is logged: only requests left over
	// from the prior session belong in the flush, not anything the connect
	// itself fans out.
	d.flushPending(link)

	d.dist.Info().
		Str("node_name", node.Name).
		Uint32("node_id", node.ID).
		Str("node_type", node.Type.String()).
		Str("remote", node.Address).
		Int("conn_count", node.ConnCount).
		Msg("Node connected")

	d.greet(link)
}

// greet runs the node-type specific connect actions.
func (d *Daemon) greet(link *nodeLink) {
	switch link.node.Type {
	case registry.NodeConsole:
		d.sendRequest(link, wire.ProtoConsoleWelcome, wire.MustMarshal(wire.Welcome{
			HubName: d.config.Hub.Name,
			Text:    d.console.Welcome(),
		}), "console welcome")
	case registry.NodeHost:
		// Hosts that join mid-run still need the scenario start signal.
		if d.reg.ScenarioRunning() {
			d.sendRequest(link, wire.ProtoScenarioStart, nil, "scenario start (late join)")
		}
	}
}

// flushPending resends every request that was never acknowledged, in the
// order it was originally issued.
func (d *Daemon) flushPending(link *nodeLink) {
	if len(link.pending) == 0 {
		return
	}

	reqNums := make([]uint32, 0, len(link.pending))
	for reqNum := range link.pending {
		reqNums = append(reqNums, reqNum)
	}
	sort.Slice(reqNums, func(i, j int) bool { return reqNums[i] < reqNums[j] })

	d.logger.Info().
		Uint32("node_id", link.node.ID).
		Int("count", len(reqNums)).
		Msg("Resending unacknowledged requests after reconnect")

	for _, reqNum := range reqNums {
		if link.pc.writeFrame(link.pending[reqNum].frame) != nil {
			return
		}
	}
}

// sendRequest allocates a request number, records the request as pending,
// and writes it out.
func (d *Daemon) sendRequest(link *nodeLink, proto wire.ProtocolID, payload []byte, note string) {
	reqNum := link.nextReq
	link.nextReq++

	f := &wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: proto,
		ReqNum:   reqNum,
		Payload:  payload,
	}
	link.pending[reqNum] = pendingRequest{frame: f, note: note}
	link.pc.writeFrame(f)
}

// handleResponse settles the pending request the response answers.
func (d *Daemon) handleResponse(link *nodeLink, f *wire.Frame) {
	if link.hbOutstanding && f.ReqNum == link.hbReqNum {
		link.completed.Add(f.ReqNum, struct{}{})
		d.settleHeartbeat(link)
		return
	}

	req, ok := link.pending[f.ReqNum]
	if !ok {
		if _, dup := link.completed.Get(f.ReqNum); dup {
			d.logger.Debug().
				Uint32("node_id", link.node.ID).
				Uint32("req_num", f.ReqNum).
				Msg("Dropping duplicate response")
		} else {
			d.logger.Warn().
				Uint32("node_id", link.node.ID).
				Uint32("req_num", f.ReqNum).
				Str("protocol", f.Protocol.String()).
				Msg("Dropping unsolicited response")
		}
		return
	}

	delete(link.pending, f.ReqNum)
	link.completed.Add(f.ReqNum, struct{}{})

	if req.note != "" {
		d.logger.Debug().
			Uint32("node_id", link.node.ID).
			Uint32("req_num", f.ReqNum).
			Str("request", req.note).
			Msg("Request acknowledged")
	}
}

// handleNack settles a pending request the peer refused.
func (d *Daemon) handleNack(link *nodeLink, f *wire.Frame) {
	req, ok := link.pending[f.ReqNum]
	if !ok {
		d.logger.Warn().
			Uint32("node_id", link.node.ID).
			Uint32("req_num", f.ReqNum).
			Msg("Dropping NACK for unknown request")
		return
	}

	delete(link.pending, f.ReqNum)
	link.completed.Add(f.ReqNum, struct{}{})

	d.dist.Warn().
		Uint32("node_id", link.node.ID).
		Str("node_name", link.node.Name).
		Uint32("req_num", f.ReqNum).
		Str("request", req.note).
		Msg("Request refused by node")
}

// startHeartbeat begins the heartbeat cycle for a fresh connection: the
// first beat goes out immediately, later ticks are timer driven.
func (d *Daemon) startHeartbeat(link *nodeLink) {
	if d.heartbeatInterval() == 0 {
		return
	}
	link.hbLastTick = time.Time{}
	d.sendHeartbeat(link)
	d.scheduleHeartbeat(link)
}

// sendHeartbeat issues one heartbeat request.  Heartbeats are not tracked
// as pending: a beat dies with the connection that carried it and is never
// re-flushed.
func (d *Daemon) sendHeartbeat(link *nodeLink) {
	reqNum := link.nextReq
	link.nextReq++

	link.hbReqNum = reqNum
	link.hbOutstanding = true
	link.hbSentAt = time.Now()
	link.pc.writeFrame(&wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: wire.ProtoHeartbeat,
		ReqNum:   reqNum,
		Payload:  wire.MustMarshal(wire.Heartbeat{SentAt: link.hbSentAt.UnixNano()}),
	})
}

func (d *Daemon) scheduleHeartbeat(link *nodeLink) {
	interval := d.heartbeatInterval()
	if interval == 0 {
		return
	}

	link.stopHeartbeat()
	nodeID := link.node.ID
	link.hbTimer = time.AfterFunc(interval, func() {
		d.post(func() { d.heartbeatTick(nodeID) })
	})
}

// heartbeatTick fires once per interval per connected node.  At most one
// beat is ever in flight: while it is unanswered no new one is sent, the
// first tick that finds it outstanding flags the miss, and the second
// flips the node to unresponsive.
func (d *Daemon) heartbeatTick(nodeID uint32) {
	link, ok := d.links[nodeID]
	if !ok || link.pc == nil || !link.node.Connected {
		return
	}

	interval := d.heartbeatInterval()
	now := time.Now()
	if !link.hbLastTick.IsZero() {
		if late := now.Sub(link.hbLastTick) - interval; late > interval/2 {
			d.logger.Warn().
				Uint32("node_id", nodeID).
				Dur("late_by", late).
				Msg("Heartbeat tick delayed, hub may be overloaded")
		}
	}
	link.hbLastTick = now

	if link.hbOutstanding {
		if link.node.HeartbeatMissed {
			if link.node.Responsive {
				link.node.Responsive = false
				d.dist.Warn().
					Str("node_name", link.node.Name).
					Uint32("node_id", nodeID).
					Msg("Node is unresponsive, heartbeats unanswered")
			}
		} else {
			link.node.HeartbeatMissed = true
			d.logger.Warn().
				Str("node_name", link.node.Name).
				Uint32("node_id", nodeID).
				Msg("Node missed a heartbeat")
		}
	} else {
		d.sendHeartbeat(link)
	}

	d.scheduleHeartbeat(link)
}

// settleHeartbeat processes an answered heartbeat: round-trip time is
// recorded and any missed/unresponsive state clears.
func (d *Daemon) settleHeartbeat(link *nodeLink) {
	link.hbOutstanding = false
	link.node.RTT = time.Since(link.hbSentAt)
	link.node.HeartbeatMissed = false

	if !link.node.Responsive {
		link.node.Responsive = true
		d.dist.Info().
			Str("node_name", link.node.Name).
			Uint32("node_id", link.node.ID).
			Msg("Node is responsive again")
	}
}

// dropConn severs a node's current connection without touching pending
// requests, so a displacing connection can take over.
func (d *Daemon) dropConn(node *registry.Node) {
	link, ok := d.links[node.ID]
	if !ok || link.pc == nil {
		return
	}

	// Unbind first: the dying reader's disconnect event must not tear down
	// the replacement.
	link.pc.link = nil
	link.pc.close()
	link.pc = nil
	link.stopHeartbeat()
	link.hbOutstanding = false
	d.reg.MarkInactive(node)
}

// handleDisconnect processes a connection death observed by its reader.
func (d *Daemon) handleDisconnect(pc *peerConn) {
	link := pc.link
	if link == nil {
		// Never introduced itself, or already displaced.
		return
	}
	pc.link = nil
	if link.pc != pc {
		return
	}

	link.pc = nil
	link.stopHeartbeat()
	link.hbOutstanding = false
	d.reg.MarkInactive(link.node)

	// Losing a host mid-run degrades the scenario; any other disconnect is
	// routine.
	evt := d.dist.Info()
	if link.node.Type == registry.NodeHost && d.reg.ScenarioRunning() {
		evt = d.dist.Warn()
	}
	evt.
		Str("node_name", link.node.Name).
		Uint32("node_id", link.node.ID).
		Int("pending_requests", len(link.pending)).
		Msg("Node disconnected")
}

// rejectConn answers a refused introduction and closes the connection.
func (d *Daemon) rejectConn(pc *peerConn, f *wire.Frame) {
	pc.writeFrame(wire.Nack(f.ReqNum))
	pc.close()
}

func nodeTypeFromWire(code uint16) (registry.NodeType, bool) {
	switch code {
	case wire.NodeTypeHub:
		return registry.NodeHub, true
	case wire.NodeTypeHost:
		return registry.NodeHost, true
	case wire.NodeTypeConsole:
		return registry.NodeConsole, true
	case wire.NodeTypeMonitor:
		return registry.NodeMonitor, true
	}
	return 0, false
}
