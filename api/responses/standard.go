// Package responses writes the API's success envelopes and RFC 7807 problems.
package responses

import (
	"net/http"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/errors"
	"github.com/gin-gonic/gin"
)

// TraceKey is the gin context key holding the request id.
const TraceKey = "trace_id"

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

func write(c *gin.Context, status int, data interface{}, msg string) {
	c.JSON(status, StandardResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	})
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}, message ...string) {
	msg := "Operation successful"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	write(c, http.StatusOK, data, msg)
}

// Created sends a 201 Created response
func Created(c *gin.Context, data interface{}, message ...string) {
	msg := "Resource created successfully"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	write(c, http.StatusCreated, data, msg)
}

// Error sends an error response using RFC 7807 format
func Error(c *gin.Context, problem *errors.ProblemDetails) {
	if problem.TraceID == "" {
		if traceID := getTraceID(c); traceID != "" {
			problem.WithTraceID(traceID)
		}
	}
	if _, ok := problem.Extra["timestamp"]; !ok {
		problem.WithExtra("timestamp", time.Now().UTC().Format(time.RFC3339))
	}

	c.Header("Content-Type", errors.ContentType)
	c.AbortWithStatusJSON(problem.Status, problem)
}

// Fail maps err to a problem and sends it.
func Fail(c *gin.Context, err error) {
	Error(c, errors.FromError(err, c.Request.URL.Path))
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c *gin.Context, detail string, validationErrors ...errors.ValidationError) {
	problem := errors.NewValidationError(detail, c.Request.URL.Path)
	if len(validationErrors) > 0 {
		problem.WithValidationErrors(validationErrors)
	}
	Error(c, problem)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(c *gin.Context, detail string) {
	Error(c, errors.NewUnauthorizedError(detail, c.Request.URL.Path))
}

// NotFound sends a 404 Not Found response
func NotFound(c *gin.Context, detail string) {
	Error(c, errors.NewNotFoundError(detail, c.Request.URL.Path))
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Trace-ID")
}
