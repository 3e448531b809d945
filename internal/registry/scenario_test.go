package registry

import (
	"testing"
)

func TestScenarioSingleRun(t *testing.T) {
	r := New(nil, ScenarioParams{Duration: 30})

	if r.ScenarioRunning() || r.ScenarioStarted() {
		t.Fatal("scenario must begin not started")
	}
	if r.ScenarioDuration() != 30 {
		t.Fatalf("expected duration 30, got %d", r.ScenarioDuration())
	}

	r.ScenarioStart()
	if !r.ScenarioRunning() || !r.ScenarioStarted() {
		t.Fatal("scenario should be running after start")
	}

	r.ScenarioStop()
	if r.ScenarioRunning() {
		t.Fatal("scenario should not be running after stop")
	}
	if !r.ScenarioStarted() {
		t.Fatal("a finished scenario still counts as started")
	}

	// The run happens at most once per process.
	assertPanics(t, func() { r.ScenarioStart() })
	assertPanics(t, func() { r.ScenarioStop() })
}

func TestScenarioStatusCounts(t *testing.T) {
	r := New(nil, ScenarioParams{})

	// Log events before the run are not attributed to it.
	r.CountWarning()
	r.CountError()

	_, status, warnings, errors := r.ScenarioStatus()
	if status != "GREEN" || warnings != 0 || errors != 0 {
		t.Fatalf("expected clean GREEN before start, got %s %d/%d", status, warnings, errors)
	}

	r.ScenarioStart()

	r.CountWarning()
	_, status, warnings, _ = r.ScenarioStatus()
	if status != "YELLOW" || warnings != 1 {
		t.Fatalf("expected YELLOW with 1 warning, got %s %d", status, warnings)
	}

	r.CountError()
	_, status, _, errors = r.ScenarioStatus()
	if status != "RED" || errors != 1 {
		t.Fatalf("expected RED with 1 error, got %s %d", status, errors)
	}

	r.ScenarioStop()

	// Totals freeze at stop.
	r.CountWarning()
	elapsed, status, warnings, errors := r.ScenarioStatus()
	if warnings != 1 || errors != 1 || status != "RED" {
		t.Fatalf("expected frozen RED 1/1, got %s %d/%d", status, warnings, errors)
	}
	if elapsed < 0 {
		t.Fatalf("expected non-negative elapsed time, got %v", elapsed)
	}
}

func TestScenarioSetDuration(t *testing.T) {
	r := New(nil, ScenarioParams{Autostart: true, AutostartDelay: 5})

	if !r.ScenarioAutostart() || r.ScenarioAutostartDelay() != 5 {
		t.Fatal("autostart parameters not carried over")
	}

	r.SetScenarioDuration(120)
	if r.ScenarioDuration() != 120 {
		t.Fatalf("expected duration 120, got %d", r.ScenarioDuration())
	}
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}
