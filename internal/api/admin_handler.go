package api

import (
	"alcyxob/fitness-booking/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	classService service.ClassService
}

func NewAdminHandler(classService service.ClassService) *AdminHandler {
	return &AdminHandler{classService: classService}
}

// Stats godoc
// @Summary Dashboard totals (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.CatalogStats
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.classService.Stats(c.Request.Context())
	if err != nil {
		respondServiceError(c, "retrieve stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
