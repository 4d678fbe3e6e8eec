package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/pipeline"
	"github.com/dineseek/dineseek/pkg/version"
)

// createSearch handles POST /api/v1/search. mode=async detaches the run and
// answers 202 with the poll URL; any other mode runs the pipeline inline on
// the request.
func (s *Server) createSearch(c *gin.Context) {
	identity := identityFrom(c)
	traceID := traceFrom(c)

	// Step 1: Bind and validate the request body.
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge,
				errorBody(c, "PAYLOAD_TOO_LARGE", "request body exceeds limit"))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody(c, "VALIDATION_ERROR", "malformed search request"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, errorBody(c, "VALIDATION_ERROR", "query is required"))
		return
	}

	// Step 2: Async mode detaches and acknowledges.
	if c.Query("mode") == "async" {
		accepted, err := s.runner.Accept(c.Request.Context(), req, identity, traceID)
		if err != nil {
			slog.Error("search_accept_failed", "trace_id", traceID, "error", err)
			c.JSON(http.StatusInternalServerError,
				errorBody(c, "INTERNAL_ERROR", "failed to accept search"))
			return
		}
		c.JSON(http.StatusAccepted, accepted)
		return
	}

	// Step 3: Sync mode runs inline and maps failures onto HTTP statuses.
	resp, err := s.runner.Search(c.Request.Context(), req, identity, traceID)
	if err != nil {
		perr := pipeline.Classify(err, pipeline.StagePipeline)
		c.JSON(failureStatus(perr.Kind), newFailureResponse(c, string(perr.Kind), perr.Msg, ""))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// searchResult handles GET /api/v1/search/:requestId/result. The runner
// answers ErrNotFound for unknown, expired and foreign jobs alike.
func (s *Server) searchResult(c *gin.Context) {
	identity := identityFrom(c)
	requestID := c.Param("requestId")

	job, err := s.runner.Result(c.Request.Context(), requestID, identity)
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(c, "NOT_FOUND", "request not found"))
		return
	}
	if err != nil {
		slog.Error("result_lookup_failed", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody(c, "INTERNAL_ERROR", "failed to load result"))
		return
	}

	switch job.Status {
	case models.JobDone:
		c.JSON(http.StatusOK, job.Response)
	case models.JobFailed:
		code, message := "INTERNAL_ERROR", "search failed"
		if job.Failure != nil {
			code, message = job.Failure.Kind, job.Failure.Message
		}
		c.JSON(http.StatusInternalServerError, newFailureResponse(c, code, message, job.RequestID))
	default:
		c.JSON(http.StatusAccepted, pendingResponse{
			RequestID:        job.RequestID,
			Status:           string(job.Status),
			ContractsVersion: version.ContractsVersion,
		})
	}
}

// failureStatus maps a classified pipeline kind onto the sync-mode HTTP
// status. Client-fixable kinds are 4xx, upstream trouble is 502/504, broken
// deployment config is 503, everything else is 500.
func failureStatus(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindValidation, pipeline.KindNearMeNoLocation, pipeline.KindNearMeInvalidLocation:
		return http.StatusBadRequest
	case pipeline.KindPipelineTimeout, pipeline.KindGoogleTimeout,
		pipeline.KindGateLLMTimeout, pipeline.KindLLMTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindGoogleQuotaExceeded, pipeline.KindProvider,
		pipeline.KindNetwork, pipeline.KindDNSFail:
		return http.StatusBadGateway
	case pipeline.KindOpenAIKeyMissing, pipeline.KindGoogleKeyMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
