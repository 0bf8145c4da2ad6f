package rest

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	c.AbortWithStatusJSON(status, ErrorBody{Detail: err.Error()})
}

func respondBadRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(400, ErrorBody{Detail: detail})
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
