package api

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/service"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ClassHandler struct {
	classService   service.ClassService
	bookingService service.BookingService
	rosterService  service.RosterService
}

func NewClassHandler(classService service.ClassService, bookingService service.BookingService, rosterService service.RosterService) *ClassHandler {
	return &ClassHandler{
		classService:   classService,
		bookingService: bookingService,
		rosterService:  rosterService,
	}
}

// ClassRequest is the body of create and update. Date is "YYYY-MM-DD" or RFC 3339.
type ClassRequest struct {
	Title       string `json:"title" binding:"required"`
	Trainer     string `json:"trainer" binding:"required"`
	Description string `json:"description" binding:"required"`
	Date        string `json:"date" binding:"required"`
	Time        string `json:"time" binding:"required"`
	Duration    int    `json:"duration" binding:"required,min=15"`
	Capacity    int    `json:"capacity" binding:"required,min=1"`
}

func (r ClassRequest) toInput() (service.ClassInput, error) {
	date, err := parseClassDate(r.Date)
	if err != nil {
		return service.ClassInput{}, err
	}
	return service.ClassInput{
		Title:       r.Title,
		Trainer:     r.Trainer,
		Description: r.Description,
		Date:        date,
		Time:        r.Time,
		Duration:    r.Duration,
		Capacity:    r.Capacity,
	}, nil
}

func parseClassDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}

func parseClassID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidID, "Invalid class ID format.")
		return primitive.NilObjectID, false
	}
	return id, true
}

// ListClasses godoc
// @Summary List active classes
// @Tags Classes
// @Produce json
// @Param filter query string false "upcoming or past"
// @Success 200 {array} ClassResponse
// @Router /classes [get]
func (h *ClassHandler) ListClasses(c *gin.Context) {
	filter := domain.ClassFilter(c.Query("filter"))
	classes, err := h.classService.ListClasses(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, "retrieve classes", err)
		return
	}
	c.JSON(http.StatusOK, mapClassesToResponse(classes))
}

// GetClass godoc
// @Summary Get a class by ID, including cancelled ones
// @Tags Classes
// @Produce json
// @Param id path string true "Class ObjectID Hex"
// @Success 200 {object} ClassResponse
// @Failure 404 {object} gin.H "Class not found"
// @Router /classes/{id} [get]
func (h *ClassHandler) GetClass(c *gin.Context) {
	id, ok := parseClassID(c)
	if !ok {
		return
	}
	class, err := h.classService.GetClass(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "retrieve class", err)
		return
	}
	c.JSON(http.StatusOK, mapClassToResponse(class))
}

// CreateClass godoc
// @Summary Create a class (admin)
// @Tags Classes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param class body ClassRequest true "Class details"
// @Success 201 {object} ClassResponse
// @Failure 400 {object} gin.H "Validation failed"
// @Router /classes [post]
func (h *ClassHandler) CreateClass(c *gin.Context) {
	input, ok := bindClassInput(c)
	if !ok {
		return
	}
	class, err := h.classService.CreateClass(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, "create class", err)
		return
	}
	c.JSON(http.StatusCreated, mapClassToResponse(class))
}

// UpdateClass godoc
// @Summary Update a class (admin)
// @Description Capacity cannot drop below the number of booked seats.
// @Tags Classes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ObjectID Hex"
// @Param class body ClassRequest true "Class details"
// @Success 200 {object} ClassResponse
// @Failure 400 {object} gin.H "Validation failed, class cancelled or capacity below booked seats"
// @Failure 404 {object} gin.H "Class not found"
// @Router /classes/{id} [put]
func (h *ClassHandler) UpdateClass(c *gin.Context) {
	id, ok := parseClassID(c)
	if !ok {
		return
	}
	input, ok := bindClassInput(c)
	if !ok {
		return
	}
	class, err := h.classService.UpdateClass(c.Request.Context(), id, input)
	if err != nil {
		respondCatalogError(c, "update class", err)
		return
	}
	c.JSON(http.StatusOK, mapClassToResponse(class))
}

// CancelClass godoc
// @Summary Cancel a class (admin)
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ObjectID Hex"
// @Success 200 {object} ClassResponse
// @Failure 400 {object} gin.H "Class already cancelled"
// @Failure 404 {object} gin.H "Class not found"
// @Router /classes/{id} [delete]
func (h *ClassHandler) CancelClass(c *gin.Context) {
	id, ok := parseClassID(c)
	if !ok {
		return
	}
	class, err := h.classService.CancelClass(c.Request.Context(), id)
	if err != nil {
		respondCatalogError(c, "cancel class", err)
		return
	}
	c.JSON(http.StatusOK, mapClassToResponse(class))
}

// ReconcileClass godoc
// @Summary Recount booked seats and repair the class ledger (admin)
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ObjectID Hex"
// @Success 200 {object} service.ReconcileResult
// @Router /classes/{id}/reconcile [post]
func (h *ClassHandler) ReconcileClass(c *gin.Context) {
	id, ok := parseClassID(c)
	if !ok {
		return
	}
	result, err := h.bookingService.Reconcile(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "reconcile class", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportRoster godoc
// @Summary Export the booked roster as CSV to object storage (admin)
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ObjectID Hex"
// @Success 201 {object} service.RosterExport
// @Failure 503 {object} gin.H "Export not configured"
// @Router /classes/{id}/roster/export [post]
func (h *ClassHandler) ExportRoster(c *gin.Context) {
	id, ok := parseClassID(c)
	if !ok {
		return
	}
	export, err := h.rosterService.ExportRoster(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "export roster", err)
		return
	}
	c.JSON(http.StatusCreated, export)
}

func bindClassInput(c *gin.Context) (service.ClassInput, bool) {
	var req ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidClass, "Invalid request body: "+err.Error())
		return service.ClassInput{}, false
	}
	input, err := req.toInput()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidClass, err.Error())
		return service.ClassInput{}, false
	}
	return input, true
}

// respondCatalogError differs from respondServiceError in one case: staff
// acting on a cancelled class made a bad request, it is not a missing resource.
func respondCatalogError(c *gin.Context, action string, err error) {
	if errors.Is(err, service.ErrClassNotActive) {
		abortWithError(c, http.StatusBadRequest, codeClassNotActive, err.Error())
		return
	}
	respondServiceError(c, action, err)
}
