package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"logitrack/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError maps automation error kinds and sentinels to HTTP status codes.
func respondError(c *gin.Context, logger *logrus.Logger, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrRuleNotFound), errors.Is(err, services.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrBuiltinRule):
		status = http.StatusForbidden
	case services.IsValidation(err):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", title, err)
	}
	c.JSON(status, ErrorResponse{Error: title, Message: err.Error(), Code: status})
}

// pageParams reads page/page_size query params with defaults 1/50, page_size capped at 500.
func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return page, size
}

func paginate[T any](items []T, page, size int) PaginatedResponse {
	total := len(items)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	pages := (total + size - 1) / size
	return PaginatedResponse{
		Data:     items[start:end],
		Total:    int64(total),
		Page:     page,
		PageSize: size,
		Pages:    pages,
	}
}
