package cronjob

import (
	"time"

	"github.com/clusterw/wgo-ui/service"
	"github.com/robfig/cron/v3"
)

type CronJob struct {
	cron      *cron.Cron
	reconcile *service.ReconcileService
	stats     *service.StatsService
}

func NewCronJob(reconcile *service.ReconcileService, stats *service.StatsService) *CronJob {
	return &CronJob{
		reconcile: reconcile,
		stats:     stats,
	}
}

func (c *CronJob) Start(loc *time.Location, trafficAge int) error {
	c.cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc))

	if _, err := c.cron.AddJob("@every 5s", NewStatsJob(c.reconcile)); err != nil {
		return err
	}
	if _, err := c.cron.AddJob("@every 1h", NewDelStatsJob(c.stats, trafficAge)); err != nil {
		return err
	}
	if _, err := c.cron.AddJob("@every 10m", NewDelTokensJob()); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

func (c *CronJob) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
}
