package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/SergeiKhy/tinylinks/internal/repository"
	"github.com/SergeiKhy/tinylinks/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	service        service.LinkService
	clickProcessor service.ClickProcessor
	scheduler      service.ValidationScheduler
	logger         *zap.Logger
	baseURL        string
}

func NewLinkHandler(
	service service.LinkService,
	clickProcessor service.ClickProcessor,
	scheduler service.ValidationScheduler,
	logger *zap.Logger,
	baseURL string,
) *LinkHandler {
	return &LinkHandler{
		service:        service,
		clickProcessor: clickProcessor,
		scheduler:      scheduler,
		logger:         logger,
		baseURL:        baseURL,
	}
}

type CreateLinkRequest struct {
	URL        string `json:"url" binding:"required,url"`
	CustomCode string `json:"custom_code,omitempty"`
	OwnerID    *int64 `json:"owner_id,omitempty"`
}

type LinkResponse struct {
	Code            string     `json:"code"`
	ShortURL        string     `json:"short_url"`
	LongURL         string     `json:"long_url"`
	Status          string     `json:"status"`
	ValidationError string     `json:"validation_error,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	ClickCount      int64      `json:"click_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *LinkHandler) linkResponse(link *models.Link) LinkResponse {
	return LinkResponse{
		Code:            link.Code,
		ShortURL:        h.baseURL + "/" + link.Code,
		LongURL:         link.LongURL,
		Status:          string(link.Status),
		ValidationError: link.ValidationError,
		LastCheckedAt:   link.LastCheckedAt,
		ClickCount:      link.ClickCount,
		CreatedAt:       link.CreatedAt,
	}
}

// CreateLink godoc
// @Summary Create a short link
// @Description Create a new shortened URL
// @Tags links
// @Accept json
// @Produce json
// @Param request body CreateLinkRequest true "Link creation request"
// @Success 201 {object} LinkResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/links [post]
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	input := &models.CreateLinkInput{
		LongURL: req.URL,
		OwnerID: req.OwnerID,
	}
	if req.CustomCode != "" {
		input.CustomCode = &req.CustomCode
	}

	link, err := h.service.CreateLink(c.Request.Context(), input)
	if err != nil {
		h.logger.Error("Failed to create link", zap.Error(err))

		switch {
		case errors.Is(err, service.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_url",
				Message: "Invalid URL format",
			})
		case errors.Is(err, service.ErrInvalidCode):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_code",
				Message: "Custom code must be 1-32 characters of [a-zA-Z0-9_-]",
			})
		case errors.Is(err, service.ErrCodeTaken):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "code_conflict",
				Message: "Custom code is already in use, choose another one",
			})
		case errors.Is(err, service.ErrCodesExhausted):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "codes_exhausted",
				Message: "Could not allocate a unique code, try a custom or longer code",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to create link",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, h.linkResponse(link))
}

// Redirect godoc
// @Summary Redirect to original URL
// @Description Redirect to the original URL by short code
// @Tags links
// @Produce json
// @Param code path string true "Short code"
// @Success 307 {object} nil
// @Failure 404 {object} ErrorResponse
// @Router /{code} [get]
func (h *LinkHandler) Redirect(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_code",
			Message: "Short code is required",
		})
		return
	}

	link, err := h.service.Resolve(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("Link not found", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	// Асинхронная запись журнала переходов
	clickEvent := &models.ClickEvent{
		LinkID:    link.ID,
		Code:      code,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	}
	if err := h.clickProcessor.RecordClick(c.Request.Context(), clickEvent); err != nil {
		h.logger.Debug("Failed to record click (non-blocking)", zap.Error(err))
	}

	c.Redirect(http.StatusTemporaryRedirect, link.LongURL)
}

// GetLink godoc
// @Summary Get link details
// @Description Get a shortened URL with its validation state and click count
// @Tags links
// @Produce json
// @Param code path string true "Short code"
// @Success 200 {object} LinkResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code} [get]
func (h *LinkHandler) GetLink(c *gin.Context) {
	code := c.Param("code")

	link, err := h.service.GetLink(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("Link not found", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.JSON(http.StatusOK, h.linkResponse(link))
}

// DeleteLink godoc
// @Summary Delete a short link
// @Description Delete a shortened URL by short code
// @Tags links
// @Produce json
// @Param code path string true "Short code"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code} [delete]
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	code := c.Param("code")

	err := h.service.DeleteLink(c.Request.Context(), code)
	if err != nil {
		if !errors.Is(err, repository.ErrLinkNotFound) {
			h.logger.Warn("Failed to delete link", zap.String("code", code), zap.Error(err))
		}
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Link deleted successfully"})
}

// GetStats godoc
// @Summary Get click statistics for a short link
// @Description Get total and unique click counts for a shortened URL
// @Tags links
// @Produce json
// @Param code path string true "Short code"
// @Success 200 {object} models.ClickStats
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code}/stats [get]
func (h *LinkHandler) GetStats(c *gin.Context) {
	code := c.Param("code")

	stats, err := h.clickProcessor.GetStats(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("Failed to get stats", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetDailyStats godoc
// @Summary Get daily click statistics
// @Description Get daily click counts for a shortened URL
// @Tags links
// @Produce json
// @Param code path string true "Short code"
// @Param days query int false "Number of days" default(7)
// @Success 200 {array} models.DailyClickStats
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code}/stats/daily [get]
func (h *LinkHandler) GetDailyStats(c *gin.Context) {
	code := c.Param("code")
	days := 7
	if d := c.Query("days"); d != "" {
		if _, err := fmt.Sscanf(d, "%d", &days); err != nil || days < 1 || days > 90 {
			days = 7
		}
	}

	stats, err := h.clickProcessor.GetDailyStats(c.Request.Context(), code, days)
	if err != nil {
		h.logger.Warn("Failed to get daily stats", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RunValidation godoc
// @Summary Run one validation pass immediately
// @Description Validate the current batch of least-recently-checked links
// @Tags validation
// @Produce json
// @Success 200 {object} models.TickStats
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/validation/run [post]
func (h *LinkHandler) RunValidation(c *gin.Context) {
	stats, err := h.scheduler.RunTick(c.Request.Context(), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrTickInFlight) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "validation_in_flight",
				Message: "A validation pass is already running",
			})
			return
		}
		h.logger.Error("Validation tick failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "validation_failed",
			Message: "Validation tick aborted",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
