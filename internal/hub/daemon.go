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
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"corral/internal/console"
	"corral/internal/logger"
	"corral/internal/registry"
	"corral/internal/wire"
)

// Daemon represents the hub daemon.  All registry and link state is owned by
// the event loop goroutine: reader goroutines and timers never touch it
// directly, they post closures onto the events channel instead.
type Daemon struct {
	config     *Config
	configPath string
	logger     zerolog.Logger
	dist       zerolog.Logger

	reg      *registry.Registry
	console  *console.Manager
	scenario *scenarioController
	hubNode  *registry.Node
	links    map[uint32]*nodeLink

	events   chan func()
	listener net.Listener
	running  bool
	mutex    sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDaemon creates a new hub daemon from the given configuration file
func NewDaemon(configPath string) (*Daemon, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     config,
		configPath: configPath,
		logger:     logger.New(),
		links:      make(map[uint32]*nodeLink),
		events:     make(chan func(), 256),
		ctx:        ctx,
		cancel:     cancel,
	}

	distLevel, err := zerolog.ParseLevel(config.Logging.DistributedLevel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid distributed log level: %w", err)
	}
	d.dist = logger.NewDist(d.forwardLog).Level(distLevel)

	catalog := registry.NewDirCatalog(config.Services.Path, config.Environments.Path)
	modules, err := catalog.Discover(d.logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load service catalog: %w", err)
	}
	envs, err := catalog.DiscoverEnvironments(d.logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load environments: %w", err)
	}

	d.reg = registry.New(catalog, registry.ScenarioParams{
		Autostart:      config.Scenario.Autostart,
		AutostartDelay: config.Scenario.AutostartDelay,
		Duration:       config.Scenario.Duration,
	})
	d.reg.InstallModules(modules)
	d.reg.InstallEnvironments(envs)
	d.hubNode = d.reg.NewHubNode(config.Hub.Name, config.Hub.Listen)

	d.scenario = newScenarioController(d)
	d.console = console.NewManager(d.reg, d.dist, config.Hub.Name,
		d.consoleSend, d.scenario.start, d.scenario.stop)

	return d, nil
}

// Start starts the hub daemon and blocks until shutdown
func (d *Daemon) Start() error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mutex.Unlock()

	ln, err := net.Listen("tcp", d.config.Hub.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Hub.Listen, err)
	}
	d.listener = ln

	d.console.Start()
	d.scenario.arm()

	d.wg.Add(1)
	go d.acceptLoop(ln)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	d.logger.Info().
		Str("hub_name", d.config.Hub.Name).
		Str("listen", ln.Addr().String()).
		Str("run_id", d.console.RunID().String()).
		Int("heartbeat_interval", d.config.Hub.HeartbeatInterval).
		Msg("Hub daemon started")

	for {
		select {
		case fn := <-d.events:
			fn()
		case sig := <-sigChan:
			d.logger.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			return d.Stop()
		case <-d.ctx.Done():
			return d.Stop()
		}
	}
}

// Stop stops the hub daemon gracefully
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return nil
	}
	d.running = false
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping hub daemon")

	d.cancel()
	if d.listener != nil {
		d.listener.Close()
	}
	for _, link := range d.links {
		link.stopHeartbeat()
		if link.pc != nil {
			link.pc.close()
		}
	}
	d.wg.Wait()

	d.logger.Info().Msg("Hub daemon stopped")
	return nil
}

// IsRunning returns whether the daemon is currently running
func (d *Daemon) IsRunning() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.running
}

// post schedules fn onto the event loop.  Posts are dropped once shutdown
// has been initiated.
func (d *Daemon) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.ctx.Done():
	}
}

func (d *Daemon) acceptLoop(ln net.Listener) {
	defer d.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
			default:
				d.logger.Error().Err(err).Msg("Accept failed, listener closing")
			}
			return
		}

		pc := newPeerConn(d, conn)
		d.wg.Add(1)
		go pc.readLoop()
	}
}

func (d *Daemon) heartbeatInterval() time.Duration {
	if d.config.Hub.HeartbeatInterval <= 0 {
		return 0
	}
	return time.Duration(d.config.Hub.HeartbeatInterval) * time.Second
}

// consoleSend adapts the link layer for the console manager, which only
// issues requests to nodes it has already checked are connected.
func (d *Daemon) consoleSend(n *registry.Node, proto wire.ProtocolID, payload []byte, note string) {
	link, ok := d.links[n.ID]
	if !ok || link.pc == nil {
		d.logger.Warn().
			Uint32("node_id", n.ID).
			Str("protocol", proto.String()).
			Msg("Dropping request for node without a live connection")
		return
	}
	d.sendRequest(link, proto, payload, note)
}

// forwardLog receives every event logged through the distributed logger.
// It feeds the scenario warning/error counters and fans the message out to
// connected monitor nodes.  Runs on the event loop, as all distributed
// logging does.
func (d *Daemon) forwardLog(level zerolog.Level, message string) {
	switch level {
	case zerolog.WarnLevel:
		d.reg.CountWarning()
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		d.reg.CountError()
	}
	d.fanOutLog(registry.HubNodeID, d.config.Hub.Name, level.String(), message)
}

// fanOutLog relays one log event to every connected monitor node.
func (d *Daemon) fanOutLog(nodeID uint32, nodeName, level, message string) {
	monitors := d.reg.ActiveByType(registry.NodeMonitor)
	if len(monitors) == 0 {
		return
	}

	payload := wire.MustMarshal(wire.MonitorLog{
		NodeID:   nodeID,
		NodeName: nodeName,
		Level:    level,
		Message:  message,
	})
	for _, n := range monitors {
		if link, ok := d.links[n.ID]; ok && link.pc != nil {
			d.sendRequest(link, wire.ProtoMonitorLog, payload, "")
		}
	}
}
