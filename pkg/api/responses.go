package api

import (
	"github.com/gin-gonic/gin"

	"github.com/dineseek/dineseek/pkg/version"
)

// errorResponse is the uniform error envelope for JSON endpoints.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

// errorBody builds the envelope with the request's trace id attached.
func errorBody(c *gin.Context, code, message string) errorResponse {
	return errorResponse{Code: code, Message: message, TraceID: traceFrom(c)}
}

// tokenResponse is returned by POST /api/v1/auth/token.
type tokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	TraceID   string `json:"traceId"`
}

// ticketResponse is returned by POST /api/v1/ws-ticket.
type ticketResponse struct {
	Ticket           string `json:"ticket"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// pendingResponse is the 202 body for a poll on a job that has not settled.
type pendingResponse struct {
	RequestID        string `json:"requestId"`
	Status           string `json:"status"`
	ContractsVersion string `json:"contractsVersion"`
}

// failureResponse is the 5xx envelope for failed searches, in sync mode and
// on the result poll.
type failureResponse struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	RequestID        string `json:"requestId,omitempty"`
	TraceID          string `json:"traceId,omitempty"`
	ContractsVersion string `json:"contractsVersion"`
}

func newFailureResponse(c *gin.Context, code, message, requestID string) failureResponse {
	return failureResponse{
		Code:             code,
		Message:          message,
		RequestID:        requestID,
		TraceID:          traceFrom(c),
		ContractsVersion: version.ContractsVersion,
	}
}
