package cronjob

import (
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"
)

type DelStatsJob struct {
	stats      *service.StatsService
	trafficAge int
}

func NewDelStatsJob(stats *service.StatsService, ta int) *DelStatsJob {
	return &DelStatsJob{
		stats:      stats,
		trafficAge: ta,
	}
}

func (s *DelStatsJob) Run() {
	err := s.stats.DelOldStats(s.trafficAge)
	if err != nil {
		logger.Warning("Deleting old statistics failed: ", err)
		return
	}
	logger.Debug("Stats older than ", s.trafficAge, " days were deleted")
}
