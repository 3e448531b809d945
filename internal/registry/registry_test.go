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
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves config specs from memory, keyed by "module/filename".
type fakeSource struct {
	specs map[string]*ConfigSpec
	loads int
}

func (s *fakeSource) LoadConfig(module, filename string) (*ConfigSpec, error) {
	s.loads++
	spec, ok := s.specs[module+"/"+filename]
	if !ok {
		return nil, fmt.Errorf("no such config file: %s", filename)
	}
	return spec, nil
}

func newTestRegistry() (*Registry, *fakeSource) {
	src := &fakeSource{specs: map[string]*ConfigSpec{
		"crawler/default": {
			Class:       "producer",
			SendTo:      []string{"consumer"},
			ReceiveFrom: []string{"consumer"},
		},
		"crawler/sink": {
			Class:       "consumer",
			ReceiveFrom: []string{"producer"},
		},
		"crawler/audit": {
			Class:       "audit",
			ReceiveFrom: []string{"producer"},
		},
	}}

	r := New(src, ScenarioParams{})
	r.InstallModules([]ModuleSpec{
		{Name: "crawler", DisplayName: "AutoCrawler", Classes: []string{"producer", "consumer", "audit"}},
	})
	return r, src
}

func TestNodeAllocation(t *testing.T) {
	r, _ := newTestRegistry()

	hub := r.NewHubNode("hub", "0.0.0.0:32051")
	assert.Equal(t, HubNodeID, hub.ID)
	assert.Equal(t, NodeHub, hub.Type)

	n1 := r.NewNode("alpha", NodeHost, "10.0.0.1:9000")
	n2 := r.NewNode("beta", NodeConsole, "10.0.0.2:9000")
	assert.Equal(t, uint32(2), n1.ID)
	assert.Equal(t, uint32(3), n2.ID)

	got, ok := r.NodeByName("alpha")
	require.True(t, ok)
	assert.Same(t, n1, got)

	got, ok = r.NodeByID(3)
	require.True(t, ok)
	assert.Same(t, n2, got)

	nodes := r.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, HubNodeID, nodes[0].ID)

	assert.Panics(t, func() { r.NewNode("alpha", NodeHost, "10.0.0.3:9000") },
		"duplicate names must panic")
}

func TestActiveSets(t *testing.T) {
	r, _ := newTestRegistry()
	host := r.NewNode("host-1", NodeHost, "10.0.0.1:9000")
	console := r.NewNode("console-1", NodeConsole, "10.0.0.2:9000")

	assert.Equal(t, 0, r.ActiveCount(NodeHost))

	r.MarkActive(host)
	r.MarkActive(console)
	assert.True(t, host.Connected)
	assert.True(t, host.Responsive)
	assert.Equal(t, 1, host.ConnCount)
	assert.Equal(t, 1, r.ActiveCount(NodeHost))
	assert.Equal(t, 1, r.ActiveCount(NodeConsole))
	assert.Len(t, r.ActiveNodes(), 2)

	r.MarkInactive(host)
	assert.False(t, host.Connected)
	assert.Equal(t, 0, r.ActiveCount(NodeHost))
	assert.Len(t, r.ActiveNodes(), 1)

	// Reconnect bumps the connection count but nothing else doubles up.
	host.Responsive = false
	host.HeartbeatMissed = true
	r.MarkActive(host)
	assert.Equal(t, 2, host.ConnCount)
	assert.True(t, host.Responsive)
	assert.False(t, host.HeartbeatMissed)
	assert.Equal(t, 1, r.ActiveCount(NodeHost))
}

func TestNewServiceInstance(t *testing.T) {
	r, src := newTestRegistry()
	host := r.NewNode("host-1", NodeHost, "10.0.0.1:9000")

	si, err := r.NewServiceInstance("crawler", "default", host)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), si.ID)
	assert.Equal(t, StatusInit, si.Status)
	assert.Equal(t, "AutoCrawler.default", si.FullName())
	assert.Equal(t, "producer", si.Class().Name)
	assert.Same(t, host, si.Node)
	assert.Contains(t, host.Instances, si.ID)

	// The config spec is loaded once and cached on the module.
	si2, err := r.NewServiceInstance("crawler", "default", host)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), si2.ID)
	assert.Same(t, si.Config, si2.Config)
	assert.Equal(t, 1, src.loads)

	_, err = r.NewServiceInstance("nope", "default", host)
	assert.ErrorIs(t, err, ErrUnknownService)

	_, err = r.NewServiceInstance("crawler", "missing", host)
	assert.ErrorIs(t, err, ErrConfigLoad)
}

func TestInstanceLifecycle(t *testing.T) {
	r, _ := newTestRegistry()
	host := r.NewNode("host-1", NodeHost, "10.0.0.1:9000")

	si, err := r.NewServiceInstance("crawler", "default", host)
	require.NoError(t, err)

	// READY is required before starting.
	assert.ErrorIs(t, r.InstanceStarted(si), ErrWrongStatus)

	r.InstanceSpawned(si, true)
	assert.Equal(t, StatusReady, si.Status)

	require.NoError(t, r.InstanceStarted(si))
	assert.Equal(t, StatusRunning, si.Status)

	// Double start is refused.
	assert.ErrorIs(t, r.InstanceStarted(si), ErrWrongStatus)

	require.NoError(t, r.InstanceStopped(si))
	assert.Equal(t, StatusReady, si.Status)
	assert.ErrorIs(t, r.InstanceStopped(si), ErrWrongStatus)

	r.InstanceExited(si, false)
	assert.Equal(t, StatusExited, si.Status)
	assert.True(t, si.Status.Terminal())
}

func TestInstanceSpawnFailure(t *testing.T) {
	r, _ := newTestRegistry()
	host := r.NewNode("host-1", NodeHost, "10.0.0.1:9000")

	si, err := r.NewServiceInstance("crawler", "default", host)
	require.NoError(t, err)

	r.InstanceSpawned(si, false)
	assert.Equal(t, StatusFailed, si.Status)
	assert.True(t, si.Status.Terminal())
	assert.Empty(t, r.ReceiversFor(si))
}

func TestRoutingSubscriptions(t *testing.T) {
	r, _ := newTestRegistry()
	host := r.NewNode("host-1", NodeHost, "10.0.0.1:9000")

	producer, err := r.NewServiceInstance("crawler", "default", host)
	require.NoError(t, err)
	sink, err := r.NewServiceInstance("crawler", "sink", host)
	require.NoError(t, err)
	audit, err := r.NewServiceInstance("crawler", "audit", host)
	require.NoError(t, err)

	// Nothing receives until instances report spawned.
	assert.Empty(t, r.ReceiversFor(producer))

	r.InstanceSpawned(producer, true)
	r.InstanceSpawned(sink, true)
	r.InstanceSpawned(audit, true)

	// Compatibility is two-way: the receiver must subscribe to the sender's
	// class, and the sender must list the receiver's class.
	receivers := r.ReceiversFor(producer)
	require.Len(t, receivers, 1)
	assert.Same(t, sink, receivers[0])
	assert.True(t, r.IsActiveReceiver(producer, sink))
	assert.False(t, r.IsActiveReceiver(producer, producer))

	// Audit subscribes to producers, but producers do not list the audit
	// class as a destination.
	assert.False(t, r.IsActiveReceiver(producer, audit))

	// The sink lists no destinations at all, so the producer's own
	// subscription to the consumer class is not enough.
	assert.Empty(t, r.ReceiversFor(sink))
	assert.False(t, r.IsActiveReceiver(sink, producer))

	// Terminal exit drops all subscriptions.
	r.InstanceExited(sink, false)
	assert.Empty(t, r.ReceiversFor(producer))
	assert.False(t, r.IsActiveReceiver(producer, sink))
}

func TestClassNames(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Equal(t, []string{"AutoCrawler.audit", "AutoCrawler.consumer", "AutoCrawler.producer"}, r.ClassNames())
}

func TestEnvironments(t *testing.T) {
	r, _ := newTestRegistry()
	r.InstallEnvironments([]EnvSpec{
		{Name: "roadnet", Keys: []string{"congestion", "incidents"}},
	})

	assert.Equal(t, []string{"roadnet"}, r.EnvNames())
	assert.Equal(t, []string{"roadnet.congestion", "roadnet.incidents"}, r.EnvKeyNames())

	keyID, err := r.EnvKeyID("roadnet.congestion")
	require.NoError(t, err)

	_, err = r.EnvKeyID("roadnet.bogus")
	assert.ErrorIs(t, err, ErrUnknownEnvKey)

	// Unset keys read as JSON null.
	value, err := r.EnvAsk(keyID)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), value)

	require.NoError(t, r.EnvTell(keyID, 2, json.RawMessage(`0.7`)))
	value, err = r.EnvAsk(keyID)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`0.7`), value)

	assert.ErrorIs(t, r.EnvTell(999, 2, nil), ErrUnknownEnvKey)
}
