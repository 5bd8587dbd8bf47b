package service

import (
	"time"

	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStatus is host-level information shown on the status page.
type SystemStatus struct {
	Version   string  `json:"version"`
	Uptime    uint64  `json:"uptime"`
	AppUptime uint64  `json:"appUptime"`
	CPU       float64 `json:"cpu"`
	MemUsed   uint64  `json:"memUsed"`
	MemTotal  uint64  `json:"memTotal"`
}

type ServerService struct{}

func (s *ServerService) GetStatus() *SystemStatus {
	status := &SystemStatus{
		Version:   config.GetVersion(),
		AppUptime: s.GetAppUptime(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPU = percents[0]
	} else if err != nil {
		logger.Debug("cpu stats:", err)
	}
	if info, err := mem.VirtualMemory(); err == nil {
		status.MemUsed = info.Used
		status.MemTotal = info.Total
	} else {
		logger.Debug("memory stats:", err)
	}
	if uptime, err := host.Uptime(); err == nil {
		status.Uptime = uptime
	} else {
		logger.Debug("host stats:", err)
	}
	return status
}

func (s *ServerService) GetLogs(count int, level string) []string {
	return logger.GetLogs(count, level)
}

var startTime = time.Now()

func (s *ServerService) GetAppUptime() uint64 {
	return uint64(time.Since(startTime).Seconds())
}
