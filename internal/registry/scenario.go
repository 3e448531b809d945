package registry

import "time"

// ScenarioParams are the read-only scenario inputs from the hub config.
type ScenarioParams struct {
	Autostart      bool
	AutostartDelay int // seconds to wait before autostarting
	Duration       int // seconds; 0 = unlimited
}

// scenarioState is the embedded experiment-scenario state machine:
// not-started -> running -> finished, at most once per process lifetime.
type scenarioState struct {
	autostart      bool
	autostartDelay int
	duration       int

	running bool
	startAt time.Time
	stopAt  time.Time

	warnOffset int
	errOffset  int
	warnTotal  int
	errTotal   int
}

func (s *scenarioState) init(params ScenarioParams) {
	s.autostart = params.Autostart
	if params.AutostartDelay > 0 {
		s.autostartDelay = params.AutostartDelay
	}
	if params.Duration > 0 {
		s.duration = params.Duration
	}
}

// ScenarioStart begins the scenario run.  Calling it on an already-started
// scenario is a hub bug, not a reportable condition.
func (r *Registry) ScenarioStart() {
	if !r.scn.startAt.IsZero() {
		panic("registry: scenario started twice")
	}
	r.scn.warnOffset = r.logWarnings
	r.scn.errOffset = r.logErrors
	r.scn.startAt = time.Now()
	r.scn.running = true
}

// ScenarioStop finishes the scenario run.  Only valid while running.
func (r *Registry) ScenarioStop() {
	if !r.scn.running {
		panic("registry: scenario stopped while not running")
	}
	r.scn.warnTotal = r.logWarnings - r.scn.warnOffset
	r.scn.errTotal = r.logErrors - r.scn.errOffset
	r.scn.stopAt = time.Now()
	r.scn.running = false
}

// ScenarioRunning reports whether a scenario run is in progress.
func (r *Registry) ScenarioRunning() bool { return r.scn.running }

// ScenarioStarted reports whether the scenario is running or has already run.
func (r *Registry) ScenarioStarted() bool { return !r.scn.startAt.IsZero() }

func (r *Registry) ScenarioAutostart() bool     { return r.scn.autostart }
func (r *Registry) ScenarioAutostartDelay() int { return r.scn.autostartDelay }
func (r *Registry) ScenarioDuration() int       { return r.scn.duration }

// SetScenarioDuration adjusts the duration before the scenario has started.
func (r *Registry) SetScenarioDuration(seconds int) {
	r.scn.duration = seconds
}

// ScenarioStatus returns elapsed run time, a GREEN/YELLOW/RED status, and the
// warning/error log counts attributable to the scenario run.
func (r *Registry) ScenarioStatus() (elapsed time.Duration, status string, warnings, errors int) {
	switch {
	case r.scn.running:
		warnings = r.logWarnings - r.scn.warnOffset
		errors = r.logErrors - r.scn.errOffset
		elapsed = time.Since(r.scn.startAt)
	case r.ScenarioStarted():
		warnings = r.scn.warnTotal
		errors = r.scn.errTotal
		elapsed = r.scn.stopAt.Sub(r.scn.startAt)
	default:
		// log counts before scenario start are not attributed to it
	}

	switch {
	case errors > 0:
		status = "RED"
	case warnings > 0:
		status = "YELLOW"
	default:
		status = "GREEN"
	}
	return elapsed, status, warnings, errors
}
