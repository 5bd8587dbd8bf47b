package cronjob

import (
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"
)

type StatsJob struct {
	reconcile *service.ReconcileService
}

func NewStatsJob(reconcile *service.ReconcileService) *StatsJob {
	return &StatsJob{
		reconcile: reconcile,
	}
}

func (s *StatsJob) Run() {
	err := s.reconcile.CollectStats()
	if err != nil {
		logger.Warning("Get stats failed: ", err)
		return
	}
}
