// Package search runs accepted search jobs to their terminal state. The
// runner owns the async lifecycle around the pipeline: it mints the job,
// detaches execution from the HTTP request, enforces the global deadline,
// writes the exactly-once terminal update and publishes the terminal frame.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dineseek/dineseek/pkg/assistant"
	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/pipeline"
	"github.com/dineseek/dineseek/pkg/version"
)

// terminalWriteTimeout bounds the store write that settles a job. It runs
// on a fresh context because the pipeline deadline is usually already spent
// when a run fails.
const terminalWriteTimeout = 5 * time.Second

// summaryTopNames caps how many result names feed the SUMMARY narration.
const summaryTopNames = 3

// Orchestrator executes one search. Satisfied by pipeline.Route2Orchestrator.
type Orchestrator interface {
	Search(ctx context.Context, req models.SearchRequest, rctx pipeline.Context) (models.SearchResponse, error)
}

// Publisher is the slice of the WebSocket publisher the runner writes to.
type Publisher interface {
	PublishProgress(requestID, stage, status string, progress *int, message string) int
	PublishReady(requestID, resultURL string, resultCount int) int
	PublishError(requestID, stage, code, message string) int
}

// JobNotifier resolves subscriptions parked on a requestId before its job
// record existed. Satisfied by ws.Manager.
type JobNotifier interface {
	OnJobCreated(job *models.Job)
}

// Narrator produces the SUMMARY narration after a successful run.
type Narrator interface {
	GenerateAndPublish(ctx context.Context, requestID string, actx assistant.Context, httpFallback string) string
}

// Accepted is the 202 envelope returned by the async accept path.
type Accepted struct {
	RequestID        string `json:"requestId"`
	ResultURL        string `json:"resultUrl"`
	ContractsVersion string `json:"contractsVersion"`
}

// Runner accepts searches and drives them to a terminal job state. One
// instance serves the whole process; per-job state is the cancel registry
// entry that lives for the duration of the detached run.
type Runner struct {
	orchestrator Orchestrator
	store        jobs.Store
	notifier     JobNotifier
	publisher    Publisher
	narrator     Narrator
	cfg          *config.Config

	mu      sync.Mutex
	running map[string]context.CancelFunc

	runs       sync.WaitGroup
	narrations sync.WaitGroup
}

// NewRunner wires the runner. The notifier may be nil in sync-only setups.
func NewRunner(orch Orchestrator, store jobs.Store, notifier JobNotifier, publisher Publisher, narrator Narrator, cfg *config.Config) *Runner {
	return &Runner{
		orchestrator: orch,
		store:        store,
		notifier:     notifier,
		publisher:    publisher,
		narrator:     narrator,
		cfg:          cfg,
		running:      make(map[string]context.CancelFunc),
	}
}

// Accept registers a new async search and spawns its detached run. The
// owner identity comes from the verified JWT, never from the request body.
// The accepted progress frame is published before returning so it lands in
// the backlog ahead of any frame the run produces.
func (r *Runner) Accept(ctx context.Context, req models.SearchRequest, owner models.SessionIdentity, traceID string) (Accepted, error) {
	requestID := uuid.NewString()

	if err := r.store.Init(ctx, requestID, owner); err != nil {
		return Accepted{}, err
	}

	r.publisher.PublishProgress(requestID, pipeline.StageAccepted, "completed", nil, "")
	if r.notifier != nil {
		r.notifier.OnJobCreated(&models.Job{
			RequestID:      requestID,
			Status:         models.JobPending,
			OwnerSessionID: owner.SessionID,
			OwnerUserID:    owner.UserID,
		})
	}

	rctx := pipeline.Context{RequestID: requestID, SessionID: owner.SessionID, TraceID: traceID}
	slog.Info("search_accepted",
		"request_id", requestID,
		"session_id", owner.SessionID,
		"trace_id", traceID,
		"mode", "async")

	r.runs.Add(1)
	go r.run(req, rctx)

	return Accepted{
		RequestID:        requestID,
		ResultURL:        models.ResultPath(requestID),
		ContractsVersion: version.ContractsVersion,
	}, nil
}

// run executes one detached search bounded by the pipeline deadline. The
// HTTP request context is deliberately not inherited; the client hanging up
// must not abort the job.
func (r *Runner) run(req models.SearchRequest, rctx pipeline.Context) {
	defer r.runs.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Pipeline.Deadline)
	r.track(rctx.RequestID, cancel)
	defer r.untrack(rctx.RequestID)

	started := time.Now()
	var terminal sync.Once
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("search_run_panicked",
				"request_id", rctx.RequestID,
				"session_id", rctx.SessionID,
				"panic", rec)
			terminal.Do(func() {
				perr := &pipeline.Error{Kind: pipeline.KindInternal, Stage: pipeline.StagePipeline, Msg: "internal error"}
				r.finalizeFailure(rctx, perr, true)
			})
		}
		metrics.ObserveStage(pipeline.StagePipeline, time.Since(started))
	}()

	resp, err := r.orchestrator.Search(ctx, req, rctx)
	if err != nil {
		terminal.Do(func() { r.finalizeError(rctx, err) })
		return
	}
	terminal.Do(func() { r.finalizeSuccess(req, rctx, resp) })
}

// finalizeSuccess settles a completed run: persist, publish ready, then
// narrate. The ready frame goes out before the SUMMARY narration starts so
// clients never need the narration to render results.
func (r *Runner) finalizeSuccess(req models.SearchRequest, rctx pipeline.Context, resp models.SearchResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := r.store.SetDone(ctx, rctx.RequestID, &resp); err != nil {
		if errors.Is(err, jobs.ErrTerminal) {
			slog.Debug("job_already_terminal", "request_id", rctx.RequestID)
			return
		}
		slog.Error("job_done_write_failed", "request_id", rctx.RequestID, "error", err)
		r.publisher.PublishError(rctx.RequestID, pipeline.StagePipeline,
			string(pipeline.KindInternal), "failed to persist result")
		metrics.SearchCompleted("async", "failed")
		return
	}

	r.publisher.PublishReady(rctx.RequestID, models.ResultPath(rctx.RequestID), resp.Meta.ResultCount)
	metrics.SearchCompleted("async", outcomeLabel(resp))

	if wantsSummary(resp) {
		r.narrations.Add(1)
		go func() {
			defer r.narrations.Done()
			r.narrateSummary(req, rctx, resp)
		}()
	}
}

// finalizeError settles a failed run. The orchestrator already published
// the error frame and SEARCH_FAILED narration for errors it classified, so
// the runner only writes the store; unclassified errors get the frame here.
func (r *Runner) finalizeError(rctx pipeline.Context, err error) {
	var perr *pipeline.Error
	framed := errors.As(err, &perr)
	if !framed {
		perr = pipeline.Classify(err, pipeline.StagePipeline)
	}
	r.finalizeFailure(rctx, perr, !framed)
}

func (r *Runner) finalizeFailure(rctx pipeline.Context, perr *pipeline.Error, publishFrame bool) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := r.store.SetFailed(ctx, rctx.RequestID, string(perr.Kind), perr.Msg); err != nil {
		if errors.Is(err, jobs.ErrTerminal) {
			slog.Debug("job_already_terminal", "request_id", rctx.RequestID)
			return
		}
		slog.Error("job_failed_write_failed", "request_id", rctx.RequestID, "error", err)
	}
	if publishFrame {
		r.publisher.PublishError(rctx.RequestID, perr.Stage, string(perr.Kind), perr.Msg)
	}
	metrics.SearchCompleted("async", "failed")
}

// narrateSummary runs the fire-and-forget SUMMARY narration. The narrator
// bounds itself with the assistant purpose timeout, so a fresh background
// context is enough.
func (r *Runner) narrateSummary(req models.SearchRequest, rctx pipeline.Context, resp models.SearchResponse) {
	r.narrator.GenerateAndPublish(context.Background(), rctx.RequestID, assistant.Context{
		Type:        models.AssistantSummary,
		Language:    resp.Meta.UILanguage,
		Query:       req.Query,
		ResultCount: resp.Meta.ResultCount,
		TopNames:    topNames(resp.Results, summaryTopNames),
	}, "")
}

// wantsSummary reports whether a completed response gets a SUMMARY
// narration. Guard exits already narrated their own assistant message.
func wantsSummary(resp models.SearchResponse) bool {
	return resp.Meta.FailureReason == "" || resp.Meta.FailureReason == models.FailureNoResults
}

func topNames(results []models.RestaurantResult, n int) []string {
	if len(results) < n {
		n = len(results)
	}
	names := make([]string, 0, n)
	for _, res := range results[:n] {
		names = append(names, res.Name)
	}
	return names
}

// outcomeLabel buckets a completed response for the searches metric. The
// label set is closed: ok plus the three failure reasons.
func outcomeLabel(resp models.SearchResponse) string {
	switch resp.Meta.FailureReason {
	case "":
		return "ok"
	case models.FailureNoResults:
		return "no_results"
	case models.FailureLowConfidence:
		return "low_confidence"
	case models.FailureLocationRequired:
		return "location_required"
	default:
		return "failed"
	}
}

// Search runs one search inline for the sync accept mode, bounded by the
// same pipeline deadline as detached runs. No job record is created; the
// response travels back on the HTTP request itself.
func (r *Runner) Search(ctx context.Context, req models.SearchRequest, owner models.SessionIdentity, traceID string) (models.SearchResponse, error) {
	rctx := pipeline.Context{RequestID: uuid.NewString(), SessionID: owner.SessionID, TraceID: traceID}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Pipeline.Deadline)
	defer cancel()

	resp, err := r.orchestrator.Search(runCtx, req, rctx)
	if err != nil {
		metrics.SearchCompleted("sync", "failed")
		return models.SearchResponse{}, err
	}
	metrics.SearchCompleted("sync", outcomeLabel(resp))
	return resp, nil
}

// Result loads the job for a poll. Unknown ids, expired ids and jobs owned
// by a different session all come back as jobs.ErrNotFound so a prober
// cannot tell them apart.
func (r *Runner) Result(ctx context.Context, requestID string, caller models.SessionIdentity) (*models.Job, error) {
	job, err := r.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if job.OwnerSessionID != caller.SessionID {
		slog.Warn("result_poll_foreign_session",
			"request_id", requestID,
			"session_id", caller.SessionID)
		return nil, jobs.ErrNotFound
	}
	return job, nil
}

// Cancel aborts the detached run for requestID if it is still in flight.
// Implements ws.Canceller; the run finalizes itself as PIPELINE_TIMEOUT.
func (r *Runner) Cancel(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[requestID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of detached runs that have not settled.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Close drains in-flight runs and narrations. When ctx expires first, the
// remaining runs are cancelled and finalize in the background as
// PIPELINE_TIMEOUT.
func (r *Runner) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		r.narrations.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("search runner drained")
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		for _, cancel := range r.running {
			cancel()
		}
		r.mu.Unlock()
		slog.Warn("search runner close timed out, cancelled remaining runs")
		return ctx.Err()
	}
}

func (r *Runner) track(requestID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.running[requestID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(requestID string) {
	r.mu.Lock()
	cancel, ok := r.running[requestID]
	delete(r.running, requestID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
