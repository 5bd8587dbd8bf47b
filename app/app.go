package app

import (
	"log"

	"github.com/clusterw/wgo-ui/api"
	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/cronjob"
	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"
	"github.com/clusterw/wgo-ui/web"

	"github.com/op/go-logging"
)

type APP struct {
	service.SettingService
	userService *service.UserService

	statsService      *service.StatsService
	tunnelService     *service.TunnelService
	obfuscatorService *service.ObfuscatorService
	reconcileService  *service.ReconcileService

	webServer *web.Server
	cronJob   *cronjob.CronJob
}

func NewApp() *APP {
	return &APP{}
}

func (a *APP) Init() error {
	log.Printf("%v %v", config.GetName(), config.GetVersion())

	a.initLog()

	err := database.InitDB(config.GetDBPath())
	if err != nil {
		return err
	}

	if err := a.SettingService.EnsureDefaults(); err != nil {
		return err
	}
	a.userService = &service.UserService{}
	if err := a.userService.EnsureAdmin(); err != nil {
		return err
	}

	a.statsService = service.NewStatsService()
	a.tunnelService = &service.TunnelService{}
	a.obfuscatorService = service.NewObfuscatorService()
	a.reconcileService = service.NewReconcileService(a.statsService, a.tunnelService, a.obfuscatorService)

	a.cronJob = cronjob.NewCronJob(a.reconcileService, a.statsService)
	a.webServer = web.NewServer(api.NewApiService(a.reconcileService, a.statsService))

	return nil
}

func (a *APP) Start() error {
	loc, err := a.SettingService.GetTimeLocation()
	if err != nil {
		return err
	}

	trafficAge, err := a.SettingService.GetTrafficAge()
	if err != nil {
		return err
	}

	// bring the tunnel and the obfuscator in line with persisted
	// state before serving requests
	if err := a.reconcileService.Converge(); err != nil {
		logger.Warning("startup convergence failed, will retry on next change:", err)
	}

	err = a.cronJob.Start(loc, trafficAge)
	if err != nil {
		return err
	}

	err = a.webServer.Start()
	if err != nil {
		return err
	}

	return nil
}

func (a *APP) Stop() {
	a.cronJob.Stop()
	err := a.webServer.Stop()
	if err != nil {
		logger.Warning("stop Web Server err:", err)
	}
	a.reconcileService.Shutdown()
}

func (a *APP) RestartApp() {
	a.Stop()
	err := a.Init()
	if err != nil {
		logger.Error("Error re-initializing app:", err)
		return
	}
	err = a.Start()
	if err != nil {
		logger.Error("Error re-starting app:", err)
	}
}

func (a *APP) initLog() {
	switch config.GetLogLevel() {
	case config.Debug:
		logger.InitLogger(logging.DEBUG)
	case config.Info:
		logger.InitLogger(logging.INFO)
	case config.Warn:
		logger.InitLogger(logging.WARNING)
	case config.Error:
		logger.InitLogger(logging.ERROR)
	default:
		log.Fatal("unknown log level:", config.GetLogLevel())
	}
}
