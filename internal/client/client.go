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

// Package client implements the peer side of the hub protocol for console
// sessions: introduction, heartbeat echoing, and command round-trips.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"corral/internal/wire"
)

const dialTimeout = 10 * time.Second

// Client is a console-node connection to a hub.  Safe for concurrent use.
type Client struct {
	conn   net.Conn
	nodeID uint32

	mu      sync.Mutex
	nextReq uint32
	pending map[uint32]chan result
	closed  bool
	err     error

	wmu sync.Mutex // serializes frame writes

	welcome chan string
	done    chan struct{}
}

type result struct {
	frame *wire.Frame
	err   error
}

// Dial connects to a hub, introduces itself as a console node, and starts
// the reader.  The returned client is ready for Command calls.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	var dialer net.Dialer
	dialer.Timeout = dialTimeout

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hub at %s: %w", addr, err)
	}

	hello := &wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: wire.ProtoHello,
		ReqNum:   1,
		Payload: wire.MustMarshal(wire.Hello{
			Name:      name,
			Type:      wire.NodeTypeConsole,
			ConnCount: 1,
		}),
	}
	if err := wire.WriteFrame(conn, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send introduction: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(dialTimeout))
	}
	reply, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read introduction reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if reply.Category != wire.CategoryResponse || reply.Protocol != wire.ProtoHello {
		conn.Close()
		return nil, fmt.Errorf("hub refused the connection (name %q may already be in use)", name)
	}

	var ack wire.HelloAck
	if err := json.Unmarshal(reply.Payload, &ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to parse introduction reply: %w", err)
	}

	c := &Client{
		conn:    conn,
		nodeID:  ack.NodeID,
		nextReq: 2,
		pending: make(map[uint32]chan result),
		welcome: make(chan string, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// NodeID returns the node id the hub assigned to this session.
func (c *Client) NodeID() uint32 {
	return c.nodeID
}

// Welcome returns a channel carrying the hub's welcome banner, sent once
// shortly after connecting.
func (c *Client) Welcome() <-chan string {
	return c.welcome
}

// Done is closed when the connection dies.  Err reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.fail(net.ErrClosed)
	return nil
}

// fail marks the client dead, settles all waiters, and closes the socket.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	waiters := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.conn.Close()
	for _, ch := range waiters {
		ch <- result{err: err}
	}
	close(c.done)
}

// Command sends one console input line to the hub and returns the hub's
// reply text.
func (c *Client) Command(ctx context.Context, line string) (string, error) {
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return "", fmt.Errorf("connection to hub lost: %w", err)
	}
	reqNum := c.nextReq
	c.nextReq++
	c.pending[reqNum] = ch
	c.mu.Unlock()

	f := &wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: wire.ProtoConsoleCommand,
		ReqNum:   reqNum,
		Payload:  wire.MustMarshal(wire.ConsoleCommand{Line: line}),
	}
	if err := c.write(f); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("connection to hub lost: %w", res.err)
		}
		if res.frame.Category == wire.CategoryNack {
			return "", fmt.Errorf("hub refused the command")
		}
		var reply wire.ConsoleReply
		if err := json.Unmarshal(res.frame.Payload, &reply); err != nil {
			return "", fmt.Errorf("failed to parse command reply: %w", err)
		}
		return reply.Text, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, reqNum)
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		f, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.fail(err)
			return
		}

		switch f.Category {
		case wire.CategoryRequest:
			c.handleRequest(f)
		case wire.CategoryResponse, wire.CategoryNack:
			c.settle(f)
		}
	}
}

// handleRequest serves hub-initiated requests: heartbeats are echoed
// straight back, the welcome banner is surfaced, anything else refused.
func (c *Client) handleRequest(f *wire.Frame) {
	switch f.Protocol {
	case wire.ProtoHeartbeat:
		c.write(&wire.Frame{
			Category: wire.CategoryResponse,
			Protocol: wire.ProtoHeartbeat,
			ReqNum:   f.ReqNum,
		})
	case wire.ProtoConsoleWelcome:
		var msg wire.Welcome
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.write(wire.Nack(f.ReqNum))
			return
		}
		select {
		case c.welcome <- msg.Text:
		default:
		}
		c.write(&wire.Frame{
			Category: wire.CategoryResponse,
			Protocol: wire.ProtoConsoleWelcome,
			ReqNum:   f.ReqNum,
		})
	default:
		c.write(wire.Nack(f.ReqNum))
	}
}

func (c *Client) settle(f *wire.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ReqNum]
	if ok {
		delete(c.pending, f.ReqNum)
	}
	c.mu.Unlock()

	if ok {
		ch <- result{frame: f}
	}
}

func (c *Client) write(f *wire.Frame) error {
	c.wmu.Lock()
	err := wire.WriteFrame(c.conn, f)
	c.wmu.Unlock()
	if err != nil {
		c.fail(err)
	}
	return err
}
