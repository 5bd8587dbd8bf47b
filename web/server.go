package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/clusterw/wgo-ui/api"
	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	listener   net.Listener

	settings   service.SettingService
	apiService *api.ApiService

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(apiService *api.ApiService) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		apiService: apiService,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Server) initRouter() (*gin.Engine, error) {
	if config.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.DefaultWriter = logger.Writer()
		gin.DefaultErrorWriter = logger.Writer()
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	apiGroup := engine.Group("/api")
	api.NewAPIHandler(apiGroup, s.apiService)

	return engine, nil
}

func (s *Server) Start() error {
	engine, err := s.initRouter()
	if err != nil {
		return err
	}

	listen, err := s.settings.GetWebListen()
	if err != nil {
		return err
	}
	port, err := s.settings.GetWebPort()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", listen, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("web server:", err)
		}
	}()
	logger.Info("web server running on ", addr)
	return nil
}

func (s *Server) Stop() error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
