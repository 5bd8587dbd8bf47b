package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clusterw/wgo-ui/service"
	"github.com/clusterw/wgo-ui/util/common"

	"github.com/gin-gonic/gin"
)

const maxLoginAttempts = 10

type ApiService struct {
	service.UserService
	service.PanelService
	service.ServerService

	reconcile *service.ReconcileService
	stats     *service.StatsService
	limiter   *service.LoginLimiter
}

func NewApiService(reconcile *service.ReconcileService, stats *service.StatsService) *ApiService {
	return &ApiService{
		reconcile: reconcile,
		stats:     stats,
		limiter:   service.NewLoginLimiter(15 * time.Minute),
	}
}

func (a *ApiService) Login(c *gin.Context) {
	var form struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&form); err != nil {
		jsonMsg(c, "login", common.NewErrorf("%w: %v", service.ErrValidation, err))
		return
	}
	remote := c.ClientIP()
	if a.limiter.Count(remote) >= maxLoginAttempts {
		c.JSON(http.StatusTooManyRequests, msgResponse{Success: false, Msg: "too many attempts"})
		return
	}
	if err := a.UserService.CheckCredentials(form.Username, form.Password); err != nil {
		a.limiter.Record(remote)
		jsonMsg(c, "login", err)
		return
	}
	a.limiter.Clear(remote)
	token, err := a.UserService.TokenService.Issue()
	if err != nil {
		jsonMsg(c, "login", err)
		return
	}
	jsonObj(c, gin.H{"token": token.Token, "expiresIn": token.ExpiresIn}, nil)
}

func (a *ApiService) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token != "" {
		if err := a.UserService.TokenService.Revoke(token); err != nil {
			jsonMsg(c, "logout", err)
			return
		}
	}
	jsonMsg(c, "logout", nil)
}

func (a *ApiService) ChangePass(c *gin.Context) {
	var form struct {
		Username    string `json:"username"`
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&form); err != nil {
		jsonMsg(c, "changePass", common.NewErrorf("%w: %v", service.ErrValidation, err))
		return
	}
	jsonMsg(c, "changePass", a.UserService.ChangePassword(form.Username, form.OldPassword, form.NewPassword))
}

func (a *ApiService) GetConfig(c *gin.Context) {
	cfg, err := a.reconcile.GetConfig()
	jsonObj(c, cfg, err)
}

func (a *ApiService) UpdateConfig(c *gin.Context) {
	var patch service.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		jsonMsg(c, "config update", common.NewErrorf("%w: %v", service.ErrValidation, err))
		return
	}
	cfg, err := a.reconcile.UpdateConfig(patch)
	jsonObj(c, cfg, err)
}

func (a *ApiService) RegenerateServerKeys(c *gin.Context) {
	pub, err := a.reconcile.RegenerateServerKeys()
	jsonObj(c, gin.H{"publicKey": pub}, err)
}

func (a *ApiService) RegenerateObfuscationKey(c *gin.Context) {
	key, err := a.reconcile.RegenerateObfuscationKey()
	jsonObj(c, gin.H{"obfuscationKey": key}, err)
}

func (a *ApiService) GetPeers(c *gin.Context) {
	peers, err := a.reconcile.ListPeers()
	jsonObj(c, peers, err)
}

func (a *ApiService) GetPeer(c *gin.Context) {
	peer, err := a.reconcile.GetPeer(c.Param("username"))
	jsonObj(c, peer, err)
}

func (a *ApiService) CreatePeer(c *gin.Context) {
	var form struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&form); err != nil {
		jsonMsg(c, "peer create", common.NewErrorf("%w: %v", service.ErrValidation, err))
		return
	}
	peer, err := a.reconcile.CreatePeer(form.Username)
	jsonObj(c, peer, err)
}

func (a *ApiService) UpdatePeer(c *gin.Context) {
	var patch service.PeerPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		jsonMsg(c, "peer update", common.NewErrorf("%w: %v", service.ErrValidation, err))
		return
	}
	peer, err := a.reconcile.UpdatePeer(c.Param("username"), patch)
	jsonObj(c, peer, err)
}

func (a *ApiService) DeletePeer(c *gin.Context) {
	jsonMsg(c, "peer delete", a.reconcile.DeletePeer(c.Param("username")))
}

func (a *ApiService) RegeneratePeerKeys(c *gin.Context) {
	peer, err := a.reconcile.RegeneratePeerKeys(c.Param("username"))
	jsonObj(c, peer, err)
}

func (a *ApiService) DownloadPeerConfig(c *gin.Context) {
	username := c.Param("username")
	conf, err := a.reconcile.PeerWGConfig(username)
	if err != nil {
		jsonMsg(c, "peer config", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.conf", username))
	c.Data(http.StatusOK, "text/plain", []byte(conf))
}

func (a *ApiService) DownloadPeerObfuscatorConfig(c *gin.Context) {
	username := c.Param("username")
	conf, err := a.reconcile.PeerObfuscatorConfig(username)
	if err != nil {
		jsonMsg(c, "peer obfuscator config", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-obfuscator.conf", username))
	c.Data(http.StatusOK, "text/plain", []byte(conf))
}

func (a *ApiService) GetStatus(c *gin.Context) {
	engine, err := a.reconcile.Status()
	if err != nil {
		jsonObj(c, nil, err)
		return
	}
	jsonObj(c, gin.H{
		"engine": engine,
		"system": a.ServerService.GetStatus(),
	}, nil)
}

func (a *ApiService) GetLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "50"))
	if err != nil || count < 1 {
		count = 50
	}
	jsonObj(c, a.ServerService.GetLogs(count, c.DefaultQuery("level", "info")), nil)
}

func (a *ApiService) GetObfuscatorLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "50"))
	if err != nil || count < 1 {
		count = 50
	}
	jsonObj(c, a.reconcile.ObfuscatorLogs(count), nil)
}

func (a *ApiService) GetPeerTraffic(c *gin.Context) {
	from, _ := strconv.ParseInt(c.Query("from"), 10, 64)
	to, _ := strconv.ParseInt(c.Query("to"), 10, 64)
	samples, err := a.stats.GetTraffic(c.Param("username"), from, to)
	jsonObj(c, samples, err)
}

func (a *ApiService) RestartApp(c *gin.Context) {
	jsonMsg(c, "restartApp", a.PanelService.RestartPanel(time.Second))
}

func (a *ApiService) Converge(c *gin.Context) {
	jsonMsg(c, "converge", a.reconcile.Converge())
}
