// Package middleware file: internal/transport/http/middleware/error_handler.go
package middleware

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrBadRequest 由处理器包装请求本身的问题，例如请求体无法解析
var ErrBadRequest = errors.New("请求无效")

// StatusFor 返回错误对应的 HTTP 状态码
func StatusFor(err error) int {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, domain.ErrUnsupportedDialect),
		errors.Is(err, port.ErrMalformedDocumentQuery):
		return http.StatusBadRequest
	case errors.Is(err, port.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, port.ErrCompletion),
		errors.Is(err, port.ErrSynthesis),
		errors.Is(err, port.ErrAnalysis):
		return http.StatusBadGateway
	case errors.Is(err, port.ErrExecution),
		errors.Is(err, port.ErrSchemaUnavailable):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// ErrorHandlingMiddleware 集中处理处理器通过 c.Error(err) 附加的错误。
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// 只处理最后一个错误
		err := c.Errors.Last().Err

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数验证失败", "details": ve.Error()})
			return
		}

		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("请求处理失败", "path", c.FullPath(), "status", status, "error", err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
