package cronjob

import (
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"
)

type DelTokensJob struct {
	service.TokenService
}

func NewDelTokensJob() *DelTokensJob {
	return new(DelTokensJob)
}

func (s *DelTokensJob) Run() {
	count, err := s.TokenService.CleanupExpired()
	if err != nil {
		logger.Warning("Deleting expired tokens failed: ", err)
		return
	}
	if count > 0 {
		logger.Debug(count, " expired tokens were deleted")
	}
}
