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
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"corral/internal"
	"corral/internal/registry"
	"corral/internal/wire"
)

// SendFunc sends a request frame to a connected node.  note is recorded
// locally and logged when the peer acknowledges.
type SendFunc func(n *registry.Node, proto wire.ProtocolID, payload []byte, note string)

type historyEntry struct {
	at     time.Time
	nodeID uint32
	line   string
}

// Manager processes console commands against the registry and issues
// hub-to-host requests for spawn/start/stop.  All methods run on the hub
// event loop.
type Manager struct {
	reg     *registry.Registry
	log     zerolog.Logger
	hubName string
	runID   uuid.UUID

	send     SendFunc
	scnStart func()
	scnStop  func()

	startTime   time.Time
	lastConsole time.Time
	history     []historyEntry

	tree Tree
}

// NewManager builds the command tree and wires it to the registry and the
// hub callbacks.
func NewManager(reg *registry.Registry, log zerolog.Logger, hubName string,
	send SendFunc, scnStart, scnStop func()) *Manager {

	m := &Manager{
		reg:      reg,
		log:      log,
		hubName:  hubName,
		runID:    uuid.New(),
		send:     send,
		scnStart: scnStart,
		scnStop:  scnStop,
	}
	m.tree = m.buildTree()
	m.tree.validate()
	return m
}

// Start records the hub's reference start time for uptime reporting.
func (m *Manager) Start() {
	m.startTime = time.Now()
}

// RunID identifies this hub process lifetime.
func (m *Manager) RunID() uuid.UUID {
	return m.runID
}

// ProcessCommand dispatches one console input line on behalf of the given
// console node and returns the formatted result.
func (m *Manager) ProcessCommand(nodeID uint32, line string) string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return ""
	}

	node, ok := m.tree[tokens[0]]
	if !ok {
		return fmt.Sprintf("%s: command not found\n", tokens[0])
	}

	m.history = append(m.history, historyEntry{
		at:     time.Now(),
		nodeID: nodeID,
		line:   strings.Join(tokens, " "),
	})

	out := node.process(tokens[0], nil, tokens[1:])
	if out != "" {
		out += "\n"
	}
	return out
}

func (m *Manager) buildTree() Tree {
	return Tree{
		"exit": {Leaf: &Leaf{
			Help:       "Exit the console session.",
			ClientSide: true,
		}},
		"exp": {Group: &Group{
			Help: "Commands that apply to the experiment scenario.",
			Sub: map[string]*Node{
				"status": {Leaf: &Leaf{
					Help: "Return current status of the experiment scenario.",
					Run:  m.expStatus,
				}},
				"set_duration": {Leaf: &Leaf{
					Help: "Set the duration of the experiment scenario, providing it has not started already " +
						"(0 = unlimited duration).",
					Args: []Arg{
						{Name: "duration", Type: ArgInt,
							Help: "length of time (seconds) in which the experiment scenario should run"},
					},
					Run: m.expSetDuration,
				}},
				"start": {Leaf: &Leaf{
					Help: "Start the experiment scenario, if it is currently not running, and has never been run.",
					Run:  m.expStart,
				}},
				"stop": {Leaf: &Leaf{
					Help: "Stop the experiment scenario, if it is currently running.  " +
						"Note that even if a duration is set, a running scenario will still stop.  " +
						"Once a scenario is stopped, it cannot be restarted.",
					Run: m.expStop,
				}},
			},
		}},
		"help": {Leaf: &Leaf{
			Help: "Get help on a specific command.  Type 'list commands' to get a listing of all " +
				"available commands.",
			Raw: func(args []string) string { return renderHelp(m.tree, args) },
		}},
		"history": {Leaf: &Leaf{
			Help: "Return command history among all console nodes.",
			Run:  m.historyList,
		}},
		"list": {Group: &Group{
			Help: "Return a listing based on the command given.",
			Sub: map[string]*Node{
				"commands": {Leaf: &Leaf{
					Help: "Return a listing of available console commands.",
					Run:  m.listCommands,
				}},
				"env_keys": {Leaf: &Leaf{
					Help: "Return a listing of available network environment keys.",
					Run:  m.listEnvKeys,
				}},
				"envs": {Leaf: &Leaf{
					Help: "Return a listing of loaded network environments.",
					Run:  m.listEnvs,
				}},
				"nodes": {Leaf: &Leaf{
					Help: "Return a listing of currently running nodes.",
					Run:  m.listNodes,
				}},
				"services": {Leaf: &Leaf{
					Help: "Return a listing of registered service instances.",
					Run:  m.listServices,
				}},
			},
		}},
		"node": {Group: &Group{
			Help: "Commands that apply to nodes.",
			Arg: &GroupArg{
				Arg:     Arg{Name: "node_id", Type: ArgInt, Help: "id of node to apply command"},
				Resolve: m.resolveNode,
			},
			Sub: map[string]*Node{
				"info": {Leaf: &Leaf{
					Help: "Return information about the given node.",
					Run:  m.nodeInfo,
				}},
				"spawn": {Leaf: &Leaf{
					Help: "Spawn a new service instance on the given node.",
					Args: []Arg{
						{Name: "service_name", Type: ArgString, Help: "name of service to spawn"},
						{Name: "config_filename", Type: ArgString,
							Help: "filename of the service configuration to load"},
					},
					Default:    "default",
					HasDefault: true,
					Run:        m.nodeSpawn,
				}},
			},
		}},
		"service": {Group: &Group{
			Help: "Commands that apply to service instances.",
			Arg: &GroupArg{
				Arg:     Arg{Name: "service_id", Type: ArgInt, Help: "id of service instance to apply command"},
				Resolve: m.resolveService,
			},
			Sub: map[string]*Node{
				"info": {Leaf: &Leaf{
					Help: "Display information about the service instance.",
					Run:  m.serviceInfo,
				}},
				"start": {Leaf: &Leaf{
					Help: "Start the given service instance.",
					Run:  m.serviceStart,
				}},
				"stop": {Leaf: &Leaf{
					Help: "Stop the given service instance.",
					Run:  m.serviceStop,
				}},
			},
		}},
		"uptime": {Leaf: &Leaf{
			Help: "Display uptime information of the hub node.",
			Run:  m.uptime,
		}},
		"usage": {Group: &Group{
			Help: "Resource usage information.",
			Sub: map[string]*Node{
				"process": {Leaf: &Leaf{
					Help: "Resource usage information of the hub node's process.",
					Run:  m.usageProcess,
				}},
				"system": {Leaf: &Leaf{
					Help: "Resource usage information of the system the hub node is running on.",
					Run:  m.usageSystem,
				}},
			},
		}},
		"version": {Leaf: &Leaf{
			Help: "Display corral version, as reported by the hub node.",
			Run:  m.version,
		}},
	}
}

// group argument resolvers

func (m *Manager) resolveNode(v any) (any, error) {
	id := v.(int)
	if id >= 0 {
		if n, ok := m.reg.NodeByID(uint32(id)); ok {
			return n, nil
		}
	}
	return nil, Errorf("node with id '%d' does not exist", id)
}

func (m *Manager) resolveService(v any) (any, error) {
	id := v.(int)
	if id >= 0 {
		if si, ok := m.reg.InstanceByID(uint32(id)); ok {
			return si, nil
		}
	}
	return nil, Errorf("service instance with id '%d' does not exist", id)
}

// node commands

func (m *Manager) nodeInfo(groups []any, _ []any) (string, error) {
	n := groups[0].(*registry.Node)
	return fmt.Sprintf("node name: %s\nnode type: %s", n.Name, n.Type), nil
}

func (m *Manager) nodeSpawn(groups []any, args []any) (string, error) {
	n := groups[0].(*registry.Node)
	serviceName := args[0].(string)
	configFilename := args[1].(string)

	if !n.Connected {
		return "", Errorf("node %d is offline", n.ID)
	}
	if n.Type != registry.NodeHost {
		return "", Errorf("node %d is not a host", n.ID)
	}

	si, err := m.reg.NewServiceInstance(serviceName, configFilename, n)
	if err != nil {
		return "", Errorf("%s", err)
	}

	m.log.Info().
		Str("service", si.FullName()).
		Uint32("service_id", si.ID).
		Uint32("node_id", n.ID).
		Msg("New service instance assigned to node")

	m.send(n, wire.ProtoServiceSpawn, wire.MustMarshal(wire.SpawnService{
		Service:     serviceName,
		Config:      configFilename,
		ServiceID:   si.ID,
		DisplayName: si.Module().DisplayName,
	}), fmt.Sprintf("service spawn (new service id: %d, service name: %s, configuration: %s)",
		si.ID, serviceName, configFilename))

	return "", nil
}

// service commands

func (m *Manager) serviceInfo(groups []any, _ []any) (string, error) {
	si := groups[0].(*registry.ServiceInstance)
	cfg := si.Config

	return fmt.Sprintf("full name: %s\n"+
		"config:    %s\n"+
		"class:     %s\n"+
		"status:    %s\n\n"+
		"classes configured for sending data to / receiving data from:\n"+
		"- send: %s\n- recv: %s",
		si.FullName(), cfg.Filename, cfg.Class.Name, si.Status,
		classNames(cfg.SendTo), classNames(cfg.ReceiveFrom)), nil
}

func classNames(set map[int]*registry.ServiceClass) string {
	names := make([]string, 0, len(set))
	for _, cls := range set {
		names = append(names, cls.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (m *Manager) serviceStart(groups []any, _ []any) (string, error) {
	si := groups[0].(*registry.ServiceInstance)
	n := si.Node

	if !n.Connected {
		return "", Errorf("node %d hosting this service is offline", n.ID)
	}
	if si.Status != registry.StatusReady {
		return "", statusError(si, "is already running")
	}

	m.send(n, wire.ProtoServiceStart, wire.MustMarshal(wire.InstanceRef{ServiceID: si.ID}),
		fmt.Sprintf("service start (service name: %s, service id: %d)", si.FullName(), si.ID))
	return "", nil
}

func (m *Manager) serviceStop(groups []any, _ []any) (string, error) {
	si := groups[0].(*registry.ServiceInstance)
	n := si.Node

	if !n.Connected {
		return "", Errorf("node %d hosting this service is offline", n.ID)
	}
	if si.Status != registry.StatusRunning {
		return "", statusError(si, "is not running")
	}

	m.send(n, wire.ProtoServiceStop, wire.MustMarshal(wire.InstanceRef{ServiceID: si.ID}),
		fmt.Sprintf("service stop (service name: %s, service id: %d)", si.FullName(), si.ID))
	return "", nil
}

// statusError renders the lifecycle-state failure for start/stop commands;
// activeMsg describes the READY/RUNNING mismatch case.
func statusError(si *registry.ServiceInstance, activeMsg string) error {
	var reason string
	switch si.Status {
	case registry.StatusFailed:
		reason = "has failed"
	case registry.StatusExited:
		reason = "has previously terminated"
	case registry.StatusInit:
		reason = "is still initializing"
	default:
		reason = activeMsg
	}
	return Errorf("service %d (node %d) %s", si.ID, si.Node.ID, reason)
}

// scenario commands

func (m *Manager) expStatus(_ []any, _ []any) (string, error) {
	elapsed, status, warnings, errCount := m.reg.ScenarioStatus()

	statusStr := fmt.Sprintf("- elapsed time: %s\n- status: %s\n  - warnings: %d\n  - errors:   %d",
		formatDuration(elapsed), status, warnings, errCount)

	var runStr string
	switch {
	case m.reg.ScenarioRunning():
		runStr = fmt.Sprintf("Yes\n%s", statusStr)
	case m.reg.ScenarioStarted():
		runStr = fmt.Sprintf("No (finished)\n%s", statusStr)
	default:
		runStr = "No"
	}

	autostartStr := "No"
	if m.reg.ScenarioAutostart() {
		autostartStr = fmt.Sprintf("Yes (autostart delay: %d)", m.reg.ScenarioAutostartDelay())
	}

	durationStr := "Unlimited"
	if d := m.reg.ScenarioDuration(); d > 0 {
		durationStr = fmt.Sprintf("%ds", d)
	}

	return fmt.Sprintf("Scenario running: %s\n\nParameters:\n- Autostart enabled: %s\n- Scenario duration: %s",
		runStr, autostartStr, durationStr), nil
}

func (m *Manager) expSetDuration(_ []any, args []any) (string, error) {
	if m.reg.ScenarioRunning() {
		return "Cannot set experiment scenario duration, as it is already running", nil
	}
	if m.reg.ScenarioStarted() {
		return "Cannot set experiment scenario duration, as it already finished, and can only be run once", nil
	}

	m.reg.SetScenarioDuration(args[0].(int))
	return "", nil
}

func (m *Manager) expStart(_ []any, _ []any) (string, error) {
	if m.reg.ScenarioAutostart() {
		return "Experiment scenario cannot be started manually as autostart is enabled", nil
	}
	if m.reg.ScenarioRunning() {
		return "Experiment scenario is already running", nil
	}
	if m.reg.ScenarioStarted() {
		return "Experiment scenario has already run, and can only run once", nil
	}

	m.scnStart()

	if d := m.reg.ScenarioDuration(); d > 0 {
		return fmt.Sprintf("Experiment scenario started, will run for a duration of %d seconds", d), nil
	}
	return "Experiment scenario started, will run without duration limit", nil
}

func (m *Manager) expStop(_ []any, _ []any) (string, error) {
	if !m.reg.ScenarioRunning() {
		return "Experiment scenario is not currently running", nil
	}

	m.scnStop()
	return "", nil
}

// listings

func (m *Manager) listCommands(_ []any, _ []any) (string, error) {
	names := make([]string, 0, len(m.tree))
	for name := range m.tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", "), nil
}

func (m *Manager) listEnvs(_ []any, _ []any) (string, error) {
	names := m.reg.EnvNames()
	if len(names) == 0 {
		return "No loaded environments to list", nil
	}

	rows := [][]string{{"NAME"}}
	for _, name := range names {
		rows = append(rows, []string{name})
	}
	return formatTable([]Align{AlignLeft}, rows), nil
}

func (m *Manager) listEnvKeys(_ []any, _ []any) (string, error) {
	names := m.reg.EnvKeyNames()
	if len(names) == 0 {
		return "No available environment keys to list", nil
	}

	rows := [][]string{{"NAME"}}
	for _, name := range names {
		rows = append(rows, []string{name})
	}
	return formatTable([]Align{AlignLeft}, rows), nil
}

func (m *Manager) listNodes(_ []any, _ []any) (string, error) {
	rows := [][]string{{"ID", "NAME", "TYPE", "ADDRESS", "CONN", "RTT (ms)", "RESP", "RCONN"}}
	for _, n := range m.reg.Nodes() {
		conn, rtt, resp := "N", "-", "N"
		if n.Connected {
			conn = "Y"
			rtt = fmt.Sprintf("%.3f", float64(n.RTT.Nanoseconds())/1e6)
			if n.Responsive {
				resp = "Y"
			}
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", n.ID),
			n.Name,
			n.Type.String(),
			n.Address,
			conn,
			rtt,
			resp,
			fmt.Sprintf("%d", n.ConnCount-1), // reconnects
		})
	}

	return formatTable([]Align{
		AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignLeft, AlignRight,
	}, rows), nil
}

func (m *Manager) listServices(_ []any, _ []any) (string, error) {
	instances := m.reg.Instances()
	if len(instances) == 0 {
		return "No registered services to list", nil
	}

	rows := [][]string{{"ID", "NAME", "CONFIG", "CLASS", "NODE", "STATUS"}}
	for _, si := range instances {
		status := si.Status.String()
		if !si.Node.Connected && !si.Status.Terminal() {
			// the owning node is gone, so the stored status may be stale
			status = "UNKNOWN"
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", si.ID),
			si.Module().DisplayName,
			si.Config.Filename,
			si.Class().Name,
			fmt.Sprintf("%d", si.Node.ID),
			status,
		})
	}

	return formatTable([]Align{
		AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignLeft,
	}, rows), nil
}

func (m *Manager) historyList(_ []any, _ []any) (string, error) {
	rows := [][]string{{"TIME", "ID", "COMMAND"}}
	for _, entry := range m.history {
		rows = append(rows, []string{
			entry.at.Format(time.ANSIC),
			fmt.Sprintf("%d", entry.nodeID),
			entry.line,
		})
	}
	return formatTable([]Align{AlignLeft, AlignRight, AlignLeft}, rows), nil
}

// misc

func (m *Manager) uptime(_ []any, _ []any) (string, error) {
	return fmt.Sprintf("%s, hub running for %s",
		time.Now().Format(time.ANSIC), formatDuration(time.Since(m.startTime))), nil
}

func (m *Manager) version(_ []any, _ []any) (string, error) {
	return fmt.Sprintf("corral %s (run %s)", internal.Version, m.runID), nil
}

// formatDuration renders a duration as "[N days, ]h:mm:ss".
func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60

	var daysStr string
	switch {
	case days == 1:
		daysStr = "1 day, "
	case days > 1:
		daysStr = fmt.Sprintf("%d days, ", days)
	}

	return fmt.Sprintf("%s%d:%02d:%02d", daysStr, hours, mins, secs%60)
}
