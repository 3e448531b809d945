package console

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"corral/internal"
	"corral/internal/registry"
)

const bytesPerMiB = 1024 * 1024

func (m *Manager) usageProcess(_ []any, _ []any) (string, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "", Errorf("could not inspect hub process: %v", err)
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return "", Errorf("could not read process CPU usage: %v", err)
	}
	memPct, err := proc.MemoryPercent()
	if err != nil {
		return "", Errorf("could not read process MEM usage: %v", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return "", Errorf("could not read process memory info: %v", err)
	}

	out := fmt.Sprintf("Hub node process resource usage:\n"+
		"- CPU: %.1f%%\n"+
		"- MEM: %.1f%% (%.2fM RSS, %.2fM VMS)",
		cpuPct, memPct,
		float64(memInfo.RSS)/bytesPerMiB, float64(memInfo.VMS)/bytesPerMiB)

	// file descriptor accounting is platform dependent
	if fds, err := proc.NumFDs(); err == nil {
		out += fmt.Sprintf("\n- open file descriptors: %d", fds)
	}
	return out, nil
}

func (m *Manager) usageSystem(_ []any, _ []any) (string, error) {
	cpuPct, memPct := systemUsage()

	vm, err := mem.VirtualMemory()
	if err != nil {
		return "", Errorf("could not read system memory info: %v", err)
	}

	out := fmt.Sprintf("System resource usage:\n"+
		"- CPU: %.1f%%\n"+
		"- MEM: %.1f%% (%.2fM used of %.2fM total)",
		cpuPct, memPct,
		float64(vm.Used)/bytesPerMiB, float64(vm.Total)/bytesPerMiB)

	if avg, err := load.Avg(); err == nil {
		out += fmt.Sprintf("\n- load: %.2f %.2f %.2f over %d CPUs",
			avg.Load1, avg.Load5, avg.Load15, runtime.NumCPU())
	}
	return out, nil
}

// systemUsage samples system-wide CPU and memory percentages, returning
// zeros when the platform does not expose them.
func systemUsage() (cpuPct, memPct float64) {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}

// Welcome renders the banner sent to a console node on connect.
func (m *Manager) Welcome() string {
	cpuPct, memPct := systemUsage()

	msg := fmt.Sprintf("Welcome to corral hub '%s' (version %s)\n\n"+
		" * Documentation: %s\n\n"+
		"  Currently connected console nodes: %d\n"+
		"  Currently connected monitor nodes: %d\n\n"+
		"  System CPU usage: %.1f%%\n"+
		"  System MEM usage: %.1f%%",
		m.hubName, internal.Version, internal.DocsURL,
		m.reg.ActiveCount(registry.NodeConsole),
		m.reg.ActiveCount(registry.NodeMonitor),
		cpuPct, memPct)

	if !m.lastConsole.IsZero() {
		msg += fmt.Sprintf("\n\n  Last console node connection: %s",
			m.lastConsole.Format(time.ANSIC))
	}
	m.lastConsole = time.Now()

	return msg
}
