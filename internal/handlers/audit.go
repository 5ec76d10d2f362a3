package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mpetrov/chatgate/backend/internal/services"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/mpetrov/chatgate/backend/pkg/response"
	"gorm.io/gorm"
)

type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{audit: services.NewAuditService(db)}
}

// List returns a page of security events
// GET /api/admin/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	var req services.AuditListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.audit.List(&req)
	if err != nil {
		logger.Error().Err(err).Msg("audit list failed")
		response.ServerError(c)
		return
	}

	response.Success(c, result)
}
