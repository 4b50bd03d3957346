package legacy

import (
	"github.com/gin-gonic/gin"
	"github.com/shiftsight/core/internal/middleware"
	"github.com/shiftsight/core/internal/pkg/response"
)

type Handler struct {
	importer *Importer
}

func NewHandler(importer *Importer) *Handler {
	return &Handler{importer: importer}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	group := rg.Group("/legacy", authMW)
	group.POST("/import", h.runImport)
}

func (h *Handler) runImport(c *gin.Context) {
	if role, _ := c.Get(middleware.ContextKeyRole); role != "admin" {
		response.NotFound(c)
		return
	}

	summary, err := h.importer.Run(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, summary)
}
