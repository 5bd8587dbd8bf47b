package api

import (
	"errors"
	"net/http"

	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/service"
	"github.com/gin-gonic/gin"
)

type msgResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
	Obj     any    `json:"obj,omitempty"`
}

// statusOf maps the service error kinds onto HTTP statuses. A failed
// apply is 502: the intent is persisted, the actuation is not.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrApply), errors.Is(err, service.ErrProcessCrash):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonMsg(c *gin.Context, msg string, err error) {
	if err == nil {
		c.JSON(http.StatusOK, msgResponse{Success: true, Msg: msg})
		return
	}
	logger.Warning(msg, " failed: ", err)
	c.JSON(statusOf(err), msgResponse{Success: false, Msg: err.Error()})
}

func jsonObj(c *gin.Context, obj any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, msgResponse{Success: true, Obj: obj})
		return
	}
	logger.Warning("request failed: ", err)
	c.JSON(statusOf(err), msgResponse{Success: false, Msg: err.Error()})
}
