package client

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"corral/internal/wire"
)

// fakeHub is a scripted hub on a loopback listener serving one connection.
type fakeHub struct {
	ln   net.Listener
	conn net.Conn
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return &fakeHub{ln: ln}
}

func (h *fakeHub) addr() string { return h.ln.Addr().String() }

// accept takes the one connection and answers the introduction.
func (h *fakeHub) accept(t *testing.T, acceptIntro bool) {
	t.Helper()
	conn, err := h.ln.Accept()
	if err != nil {
		t.Errorf("accept failed: %v", err)
		return
	}
	h.conn = conn

	f, err := wire.ReadFrame(conn)
	if err != nil {
		t.Errorf("failed to read introduction: %v", err)
		return
	}
	if f.Protocol != wire.ProtoHello || f.ReqNum != 1 {
		t.Errorf("unexpected introduction frame: %+v", f)
	}
	var hello wire.Hello
	if err := json.Unmarshal(f.Payload, &hello); err != nil {
		t.Errorf("bad introduction payload: %v", err)
	}
	if hello.Type != wire.NodeTypeConsole {
		t.Errorf("expected console type, got %d", hello.Type)
	}

	if !acceptIntro {
		wire.WriteFrame(conn, wire.Nack(f.ReqNum))
		return
	}
	wire.WriteFrame(conn, &wire.Frame{
		Category: wire.CategoryResponse,
		Protocol: wire.ProtoHello,
		ReqNum:   f.ReqNum,
		Payload:  wire.MustMarshal(wire.HelloAck{NodeID: 7, HubType: wire.NodeTypeHub}),
	})
}

func (h *fakeHub) read(t *testing.T) *wire.Frame {
	t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := wire.ReadFrame(h.conn)
	if err != nil {
		t.Fatalf("hub-side read failed: %v", err)
	}
	return f
}

func dialTestClient(t *testing.T, h *fakeHub) *Client {
	t.Helper()
	go h.accept(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, h.addr(), "con-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialAndCommand(t *testing.T) {
	h := newFakeHub(t)
	c := dialTestClient(t, h)

	if c.NodeID() != 7 {
		t.Errorf("expected assigned node id 7, got %d", c.NodeID())
	}

	// The hub pushes the welcome banner as a request.
	wire.WriteFrame(h.conn, &wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: wire.ProtoConsoleWelcome,
		ReqNum:   100,
		Payload:  wire.MustMarshal(wire.Welcome{HubName: "testhub", Text: "hello there"}),
	})
	select {
	case text := <-c.Welcome():
		if text != "hello there" {
			t.Errorf("unexpected welcome text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the welcome banner")
	}
	if ack := h.read(t); ack.Category != wire.CategoryResponse || ack.ReqNum != 100 {
		t.Fatalf("expected welcome ack, got %+v", ack)
	}

	// One command round trip.
	done := make(chan struct{})
	var reply string
	var cmdErr error
	go func() {
		defer close(done)
		reply, cmdErr = c.Command(context.Background(), "list nodes")
	}()

	req := h.read(t)
	if req.Protocol != wire.ProtoConsoleCommand {
		t.Fatalf("expected a command request, got %+v", req)
	}
	var cmd wire.ConsoleCommand
	if err := json.Unmarshal(req.Payload, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Line != "list nodes" {
		t.Errorf("unexpected command line %q", cmd.Line)
	}
	wire.WriteFrame(h.conn, &wire.Frame{
		Category: wire.CategoryResponse,
		Protocol: wire.ProtoConsoleCommand,
		ReqNum:   req.ReqNum,
		Payload:  wire.MustMarshal(wire.ConsoleReply{Text: "two nodes\n"}),
	})

	<-done
	if cmdErr != nil {
		t.Fatal(cmdErr)
	}
	if reply != "two nodes\n" {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestDialRefused(t *testing.T) {
	h := newFakeHub(t)
	go h.accept(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, h.addr(), "taken-name")
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected a refusal error, got %v", err)
	}
}

func TestHeartbeatEcho(t *testing.T) {
	h := newFakeHub(t)
	dialTestClient(t, h)

	wire.WriteFrame(h.conn, &wire.Frame{
		Category: wire.CategoryRequest,
		Protocol: wire.ProtoHeartbeat,
		ReqNum:   42,
		Payload:  wire.MustMarshal(wire.Heartbeat{SentAt: time.Now().UnixNano()}),
	})

	echo := h.read(t)
	if echo.Category != wire.CategoryResponse || echo.Protocol != wire.ProtoHeartbeat || echo.ReqNum != 42 {
		t.Fatalf("expected a heartbeat echo, got %+v", echo)
	}
}

func TestCommandNack(t *testing.T) {
	h := newFakeHub(t)
	c := dialTestClient(t, h)

	done := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), "exp start")
		done <- err
	}()

	req := h.read(t)
	wire.WriteFrame(h.conn, wire.Nack(req.ReqNum))

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "refused the command") {
		t.Fatalf("expected a refusal error, got %v", err)
	}
}

func TestConnectionLoss(t *testing.T) {
	h := newFakeHub(t)
	c := dialTestClient(t, h)

	done := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), "uptime")
		done <- err
	}()
	h.read(t) // the command arrives, then the hub dies
	h.conn.Close()

	if err := <-done; err == nil {
		t.Fatal("expected the in-flight command to fail")
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done should close when the connection dies")
	}
	if c.Err() == nil {
		t.Error("Err should report why the connection died")
	}

	// Commands after the loss fail immediately.
	if _, err := c.Command(context.Background(), "uptime"); err == nil {
		t.Error("expected an immediate failure on a dead client")
	}
}
