package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type APIHandler struct {
	*ApiService
}

func NewAPIHandler(g *gin.RouterGroup, a *ApiService) {
	h := &APIHandler{
		ApiService: a,
	}
	h.initRouter(g)
}

func (h *APIHandler) initRouter(g *gin.RouterGroup) {
	g.Use(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasSuffix(path, "/login") {
			return
		}
		h.checkToken(c)
	})

	g.POST("/login", h.Login)
	g.GET("/logout", h.Logout)
	g.POST("/changePass", h.ChangePass)

	g.GET("/config", h.GetConfig)
	g.PATCH("/config", h.UpdateConfig)
	g.POST("/config/regenerateKeys", h.RegenerateServerKeys)
	g.POST("/config/regenerateObfuscationKey", h.RegenerateObfuscationKey)
	g.POST("/config/converge", h.Converge)

	g.GET("/peers", h.GetPeers)
	g.POST("/peers", h.CreatePeer)
	g.GET("/peers/:username", h.GetPeer)
	g.PATCH("/peers/:username", h.UpdatePeer)
	g.DELETE("/peers/:username", h.DeletePeer)
	g.POST("/peers/:username/regenerateKeys", h.RegeneratePeerKeys)
	g.GET("/peers/:username/config", h.DownloadPeerConfig)
	g.GET("/peers/:username/obfuscatorConfig", h.DownloadPeerObfuscatorConfig)
	g.GET("/peers/:username/traffic", h.GetPeerTraffic)

	g.GET("/status", h.GetStatus)
	g.GET("/logs", h.GetLogs)
	g.GET("/obfuscatorLogs", h.GetObfuscatorLogs)
	g.POST("/restartApp", h.RestartApp)
}

func (h *APIHandler) checkToken(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, msgResponse{Success: false, Msg: "missing token"})
		return
	}
	if err := h.UserService.TokenService.Validate(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, msgResponse{Success: false, Msg: "invalid token"})
		return
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
