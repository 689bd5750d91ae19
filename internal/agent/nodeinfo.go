package agent

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// CollectNodeOverview samples the executing node's CPU, memory, disk and
// uptime. Individual probe failures leave the corresponding field zeroed
// rather than failing the whole snapshot.
func CollectNodeOverview() (*models.NodeOverview, error) {
	overview := &models.NodeOverview{}
	overview.Hostname, _ = os.Hostname()

	if cpuPercentages, err := cpu.Percent(0, false); err == nil && len(cpuPercentages) > 0 {
		overview.CPUUsagePercent = cpuPercentages[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		overview.RAMUsagePercent = vmStat.UsedPercent
	}

	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = "C:"
	}
	if diskUsage, err := disk.Usage(diskPath); err == nil {
		overview.FreeDiskGB = diskUsage.Free / (1024 * 1024 * 1024)
	}

	if upTime, err := host.Uptime(); err == nil {
		overview.UptimeSeconds = upTime
	}

	return overview, nil
}
