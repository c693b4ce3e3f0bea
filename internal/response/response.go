package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every REST endpoint answers with.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody carries a stable code, its English message and optional
// per-field details.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata ties a response to its request. ServerTime lets exam clients
// correct their countdown against the server's clock.
type Metadata struct {
	RequestID  string `json:"request_id"`
	Timestamp  string `json:"timestamp"`
	ServerTime int64  `json:"server_time_ms"`
}

// RetryAfterSeconds is advertised on 429 and 503 responses. Autosave
// clients back off this long before resending.
const RetryAfterSeconds = "1"

// Success sends data with the given status.
func Success(c *gin.Context, statusCode int, data interface{}) {
	write(c, statusCode, data, nil, false)
}

// Created answers 201 for newly created resources, or 200 when the call
// resolved to one that already existed.
func Created(c *gin.Context, data interface{}, existed bool) {
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	write(c, status, data, nil, false)
}

// Fail sends an error response without field details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, nil, newErrorBody(code, nil), false)
}

// FailWithFields sends an error response with field-level details.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	write(c, statusCode, nil, newErrorBody(code, fields), false)
}

// AbortFail stops the middleware chain with an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, nil, newErrorBody(code, nil), true)
}

func newErrorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}
}

func write(c *gin.Context, statusCode int, data interface{}, errBody *ErrorBody, abort bool) {
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable {
		c.Header("Retry-After", RetryAfterSeconds)
	}
	body := Response{Data: data, Error: errBody, Metadata: buildMetadata(c)}
	if abort {
		c.AbortWithStatusJSON(statusCode, body)
		return
	}
	c.JSON(statusCode, body)
}

func buildMetadata(c *gin.Context) Metadata {
	id := GetRequestID(c)
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return Metadata{
		RequestID:  id,
		Timestamp:  now.Format(time.RFC3339),
		ServerTime: now.UnixMilli(),
	}
}
