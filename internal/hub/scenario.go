package hub

import (
	"time"

	"corral/internal/registry"
	"corral/internal/wire"
)

// scenarioController drives the experiment scenario timers and tells host
// nodes when the run starts and stops.  State transitions live in the
// registry; this only schedules them.
type scenarioController struct {
	d         *Daemon
	autoTimer *time.Timer
	durTimer  *time.Timer
}

func newScenarioController(d *Daemon) *scenarioController {
	return &scenarioController{d: d}
}

// arm schedules the autostart timer if the configuration asks for one.
// Called once when the daemon starts.
func (s *scenarioController) arm() {
	if !s.d.reg.ScenarioAutostart() {
		return
	}

	delay := time.Duration(s.d.reg.ScenarioAutostartDelay()) * time.Second
	s.d.logger.Info().
		Dur("delay", delay).
		Msg("Scenario autostart armed")

	s.autoTimer = time.AfterFunc(delay, func() {
		s.d.post(func() {
			if s.d.reg.ScenarioStarted() {
				return
			}
			s.start()
		})
	})
}

// start begins the scenario run.  Callers must have checked that the
// scenario has never run.
func (s *scenarioController) start() {
	s.d.reg.ScenarioStart()

	duration := s.d.reg.ScenarioDuration()
	s.d.dist.Info().
		Int("duration", duration).
		Msg("Experiment scenario started")

	s.notifyHosts(wire.ProtoScenarioStart, "scenario start")

	if duration > 0 {
		s.durTimer = time.AfterFunc(time.Duration(duration)*time.Second, func() {
			s.d.post(func() {
				// A manual stop may have already won.
				if !s.d.reg.ScenarioRunning() {
					return
				}
				s.d.dist.Info().Msg("Experiment scenario duration reached")
				s.stop()
			})
		})
	}
}

// stop finishes the scenario run.  Callers must have checked that the
// scenario is running.
func (s *scenarioController) stop() {
	if s.durTimer != nil {
		s.durTimer.Stop()
		s.durTimer = nil
	}

	s.d.reg.ScenarioStop()
	s.notifyHosts(wire.ProtoScenarioStop, "scenario stop")

	elapsed, status, warnings, errors := s.d.reg.ScenarioStatus()
	s.d.dist.Info().
		Dur("elapsed", elapsed).
		Str("status", status).
		Int("warnings", warnings).
		Int("errors", errors).
		Msg("Experiment scenario stopped")
}

func (s *scenarioController) notifyHosts(proto wire.ProtocolID, note string) {
	for _, n := range s.d.reg.ActiveByType(registry.NodeHost) {
		if link, ok := s.d.links[n.ID]; ok && link.pc != nil {
			s.d.sendRequest(link, proto, nil, note)
		}
	}
}
