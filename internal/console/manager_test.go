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

package console

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"corral/internal/registry"
	"corral/internal/wire"
)

type sentRequest struct {
	node  *registry.Node
	proto wire.ProtocolID
	note  string
}

type managerHarness struct {
	reg     *registry.Registry
	m       *Manager
	sent    []sentRequest
	started int
	stopped int
}

type stubSource struct{}

func (stubSource) LoadConfig(module, filename string) (*registry.ConfigSpec, error) {
	if filename != "default" {
		return nil, fmt.Errorf("no such config file: %s", filename)
	}
	return &registry.ConfigSpec{Class: "producer", ReceiveFrom: []string{"producer"}}, nil
}

func newHarness(t *testing.T, params registry.ScenarioParams) *managerHarness {
	t.Helper()

	h := &managerHarness{}
	h.reg = registry.New(stubSource{}, params)
	h.reg.InstallModules([]registry.ModuleSpec{
		{Name: "crawler", DisplayName: "AutoCrawler", Classes: []string{"producer"}},
	})
	h.reg.NewHubNode("testhub", "0.0.0.0:32051")

	send := func(n *registry.Node, proto wire.ProtocolID, payload []byte, note string) {
		h.sent = append(h.sent, sentRequest{node: n, proto: proto, note: note})
	}
	h.m = NewManager(h.reg, zerolog.Nop(), "testhub", send,
		func() { h.started++; h.reg.ScenarioStart() },
		func() { h.stopped++; h.reg.ScenarioStop() },
	)
	h.m.Start()
	return h
}

func (h *managerHarness) host(name string) *registry.Node {
	n := h.reg.NewNode(name, registry.NodeHost, "10.0.0.1:9000")
	h.reg.MarkActive(n)
	return n
}

func TestProcessCommandBasics(t *testing.T) {
	h := newHarness(t, registry.ScenarioParams{})

	t.Run("UnknownCommand", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "warp 9")
		if got != "warp: command not found\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("EmptyLine", func(t *testing.T) {
		if got := h.m.ProcessCommand(3, "   "); got != "" {
			t.Errorf("expected empty reply, got %q", got)
		}
	})

	t.Run("Version", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "version")
		if !strings.HasPrefix(got, "corral ") || !strings.Contains(got, "run ") {
			t.Errorf("got %q", got)
		}
		if !strings.HasSuffix(got, "\n") {
			t.Error("non-empty replies must end in a newline")
		}
	})

	t.Run("ListCommands", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "list commands")
		for _, name := range []string{"exit", "exp", "help", "history", "list", "node", "service", "uptime", "usage", "version"} {
			if !strings.Contains(got, name) {
				t.Errorf("command listing missing %q: %q", name, got)
			}
		}
	})

	t.Run("Uptime", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "uptime")
		if !strings.Contains(got, "hub running for ") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Help", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "help node spawn")
		if !strings.Contains(got, "Spawn a new service instance") {
			t.Errorf("got %q", got)
		}
	})
}

func TestHistory(t *testing.T) {
	h := newHarness(t, registry.ScenarioParams{})

	h.m.ProcessCommand(3, "version")
	h.m.ProcessCommand(4, "uptime")
	got := h.m.ProcessCommand(3, "history")

	if !strings.Contains(got, "version") || !strings.Contains(got, "uptime") {
		t.Errorf("history missing commands: %q", got)
	}
	// The history request itself is recorded too.
	if strings.Count(got, "\n") < 4 {
		t.Errorf("expected header and three entries: %q", got)
	}
}

func TestNodeCommands(t *testing.T) {
	h := newHarness(t, registry.ScenarioParams{})
	host := h.host("host-1")

	t.Run("UnknownNode", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "node 99 info")
		if got != "node: node with id '99' does not exist\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Info", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("node %d info", host.ID))
		if !strings.Contains(got, "node name: host-1") || !strings.Contains(got, "node type: host") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("SpawnDefaultConfig", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("node %d spawn crawler", host.ID))
		if got != "" {
			t.Errorf("expected silent success, got %q", got)
		}
		if len(h.sent) != 1 {
			t.Fatalf("expected one request sent, got %d", len(h.sent))
		}
		if h.sent[0].proto != wire.ProtoServiceSpawn || h.sent[0].node != host {
			t.Errorf("unexpected request: %+v", h.sent[0])
		}

		si, ok := h.reg.InstanceByID(1)
		if !ok {
			t.Fatal("instance not registered")
		}
		if si.Status != registry.StatusInit {
			t.Errorf("expected INIT status, got %s", si.Status)
		}
	})

	t.Run("SpawnBadConfig", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("node %d spawn crawler missing", host.ID))
		if !strings.Contains(got, "node spawn: ") || !strings.Contains(got, "missing") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("SpawnOnOfflineNode", func(t *testing.T) {
		h.reg.MarkInactive(host)
		defer h.reg.MarkActive(host)

		got := h.m.ProcessCommand(3, fmt.Sprintf("node %d spawn crawler", host.ID))
		if got != fmt.Sprintf("node spawn: node %d is offline\n", host.ID) {
			t.Errorf("got %q", got)
		}
	})

	t.Run("SpawnOnNonHost", func(t *testing.T) {
		console := h.reg.NewNode("console-1", registry.NodeConsole, "10.0.0.5:9000")
		h.reg.MarkActive(console)

		got := h.m.ProcessCommand(3, fmt.Sprintf("node %d spawn crawler", console.ID))
		if got != fmt.Sprintf("node spawn: node %d is not a host\n", console.ID) {
			t.Errorf("got %q", got)
		}
	})
}

func TestServiceCommands(t *testing.T) {
	h := newHarness(t, registry.ScenarioParams{})
	host := h.host("host-1")

	si, err := h.reg.NewServiceInstance("crawler", "default", host)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("UnknownService", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "service 42 info")
		if got != "service: service instance with id '42' does not exist\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("StartWhileInit", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d start", si.ID))
		want := fmt.Sprintf("service start: service %d (node %d) is still initializing\n", si.ID, host.ID)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("StartWhileReady", func(t *testing.T) {
		h.reg.InstanceSpawned(si, true)
		h.sent = nil

		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d start", si.ID))
		if got != "" {
			t.Errorf("expected silent success, got %q", got)
		}
		if len(h.sent) != 1 || h.sent[0].proto != wire.ProtoServiceStart {
			t.Fatalf("expected one start request, got %+v", h.sent)
		}
	})

	t.Run("StopWhileReady", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d stop", si.ID))
		want := fmt.Sprintf("service stop: service %d (node %d) is not running\n", si.ID, host.ID)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("StopWhileRunning", func(t *testing.T) {
		if err := h.reg.InstanceStarted(si); err != nil {
			t.Fatal(err)
		}
		h.sent = nil

		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d stop", si.ID))
		if got != "" {
			t.Errorf("expected silent success, got %q", got)
		}
		if len(h.sent) != 1 || h.sent[0].proto != wire.ProtoServiceStop {
			t.Fatalf("expected one stop request, got %+v", h.sent)
		}
	})

	t.Run("StartAfterExit", func(t *testing.T) {
		h.reg.InstanceStopped(si)
		h.reg.InstanceExited(si, false)

		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d start", si.ID))
		want := fmt.Sprintf("service start: service %d (node %d) has previously terminated\n", si.ID, host.ID)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("Info", func(t *testing.T) {
		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d info", si.ID))
		for _, want := range []string{"AutoCrawler.default", "producer", "EXIT"} {
			if !strings.Contains(got, want) {
				t.Errorf("service info missing %q: %q", want, got)
			}
		}
	})

	t.Run("StartOnOfflineNode", func(t *testing.T) {
		si2, err := h.reg.NewServiceInstance("crawler", "default", host)
		if err != nil {
			t.Fatal(err)
		}
		h.reg.InstanceSpawned(si2, true)
		h.reg.MarkInactive(host)
		defer h.reg.MarkActive(host)

		got := h.m.ProcessCommand(3, fmt.Sprintf("service %d start", si2.ID))
		want := fmt.Sprintf("service start: node %d hosting this service is offline\n", host.ID)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestListings(t *testing.T) {
	h := newHarness(t, registry.ScenarioParams{})
	host := h.host("host-1")

	t.Run("NodesTable", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "list nodes")
		for _, want := range []string{"ID", "NAME", "TYPE", "RTT (ms)", "testhub", "host-1"} {
			if !strings.Contains(got, want) {
				t.Errorf("node listing missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("NoServices", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "list services")
		if got != "No registered services to list\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("ServicesTableWithUnknownStatus", func(t *testing.T) {
		si, err := h.reg.NewServiceInstance("crawler", "default", host)
		if err != nil {
			t.Fatal(err)
		}
		h.reg.InstanceSpawned(si, true)

		got := h.m.ProcessCommand(3, "list services")
		if !strings.Contains(got, "READY") {
			t.Errorf("expected READY status:\n%s", got)
		}

		// A disconnected owner makes non-terminal statuses unknowable.
		h.reg.MarkInactive(host)
		got = h.m.ProcessCommand(3, "list services")
		if !strings.Contains(got, "UNKNOWN") {
			t.Errorf("expected UNKNOWN status:\n%s", got)
		}
	})

	t.Run("NoEnvironments", func(t *testing.T) {
		got := h.m.ProcessCommand(3, "list envs")
		if got != "No loaded environments to list\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Environments", func(t *testing.T) {
		h.reg.InstallEnvironments([]registry.EnvSpec{{Name: "roadnet", Keys: []string{"congestion"}}})

		got := h.m.ProcessCommand(3, "list envs")
		if !strings.Contains(got, "roadnet") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "list env_keys")
		if !strings.Contains(got, "roadnet.congestion") {
			t.Errorf("got %q", got)
		}
	})
}

func TestExpCommands(t *testing.T) {
	t.Run("ManualLifecycle", func(t *testing.T) {
		h := newHarness(t, registry.ScenarioParams{})

		got := h.m.ProcessCommand(3, "exp status")
		if !strings.Contains(got, "Scenario running: No") || !strings.Contains(got, "Scenario duration: Unlimited") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "exp stop")
		if !strings.Contains(got, "not currently running") {
			t.Errorf("got %q", got)
		}

		h.m.ProcessCommand(3, "exp set_duration 60")
		got = h.m.ProcessCommand(3, "exp start")
		if !strings.Contains(got, "duration of 60 seconds") || h.started != 1 {
			t.Errorf("got %q (started=%d)", got, h.started)
		}

		got = h.m.ProcessCommand(3, "exp start")
		if !strings.Contains(got, "already running") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "exp set_duration 90")
		if !strings.Contains(got, "already running") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "exp stop")
		if got != "" || h.stopped != 1 {
			t.Errorf("got %q (stopped=%d)", got, h.stopped)
		}

		got = h.m.ProcessCommand(3, "exp start")
		if !strings.Contains(got, "can only run once") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "exp status")
		if !strings.Contains(got, "No (finished)") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("AutostartBlocksManualStart", func(t *testing.T) {
		h := newHarness(t, registry.ScenarioParams{Autostart: true, AutostartDelay: 3})

		got := h.m.ProcessCommand(3, "exp start")
		if !strings.Contains(got, "autostart is enabled") {
			t.Errorf("got %q", got)
		}

		got = h.m.ProcessCommand(3, "exp status")
		if !strings.Contains(got, "Autostart enabled: Yes (autostart delay: 3)") {
			t.Errorf("got %q", got)
		}
	})
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0:00:00"},
		{59, "0:00:59"},
		{3600, "1:00:00"},
		{3661, "1:01:01"},
		{86400, "1 day, 0:00:00"},
		{2*86400 + 3*3600 + 4*60 + 5, "2 days, 3:04:05"},
	}

	for _, tc := range cases {
		got := formatDuration(time.Duration(tc.seconds) * time.Second)
		if got != tc.want {
			t.Errorf("formatDuration(%ds) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
