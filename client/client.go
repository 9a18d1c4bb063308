// Package client provides the job execution client: it applies parameter
// overrides to a job graph, submits it to the compute server, waits for
// completion, and downloads the produced artifacts.
//
// Usage:
//
//	c, err := client.New("http://127.0.0.1:8188")
//	defer c.Destroy()
//
//	result, err := c.Execute(ctx, g, overrides)
//	if result.Success {
//	    for _, a := range result.Artifacts {
//	        fmt.Println(a.Ref.Filename, a.Size)
//	    }
//	}
//
// One client instance runs one job at a time: a second Execute while the
// first is in flight fails immediately with ErrRequestInProgress. Callers
// needing parallel jobs use separate instances.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/api"
	"github.com/xraph/atelier/artifact"
	"github.com/xraph/atelier/backoff"
	"github.com/xraph/atelier/graph"
	"github.com/xraph/atelier/ingest"
	"github.com/xraph/atelier/override"
	"github.com/xraph/atelier/poll"
	"github.com/xraph/atelier/progress"
	"github.com/xraph/atelier/retry"
	"github.com/xraph/atelier/transport"
)

// tracerName is the instrumentation scope for client tracing.
const tracerName = "github.com/xraph/atelier"

// State is the client's lifecycle state.
type State int32

const (
	// StateIdle means no submission is in flight.
	StateIdle State = iota
	// StateRequesting means a submission is in flight. A second Execute is
	// rejected, never queued.
	StateRequesting
	// StateDestroyed is terminal: every public call fails fast.
	StateDestroyed
)

// Result is the outcome of one job execution. It is created once per job and
// never mutated after return. Err is set when Success is false.
type Result struct {
	Success   bool
	Artifacts []artifact.Downloaded
	// Raw holds the server's per-node output documents for callers that
	// need more than the extracted artifacts.
	Raw map[string]json.RawMessage
	Err error
}

// Client executes job graphs against one compute server.
type Client struct {
	base     string
	cfg      atelier.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	adapter  transport.Adapter
	clientID string
	watch    bool

	api        *api.Client
	ingestor   *ingest.Ingestor
	engine     *override.Engine
	invoker    *retry.Invoker
	executor   *poll.Executor
	downloader *artifact.Downloader

	mu       sync.Mutex
	state    State
	cancelFn context.CancelFunc
}

// New creates a Client for the server at base.
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:     base,
		cfg:      atelier.DefaultConfig(),
		logger:   slog.Default(),
		clientID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.adapter == nil {
		c.adapter = transport.NewHTTP(
			transport.WithTimeout(c.cfg.RequestTimeout),
			transport.WithLogger(c.logger),
		)
	}
	c.tracer = otel.Tracer(tracerName)

	apiClient, err := api.New(base,
		api.WithAdapter(c.adapter),
		api.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	c.api = apiClient

	c.invoker = retry.New(
		retry.WithRetries(c.cfg.SubmitRetries),
		retry.WithStrategy(backoff.NewExponential(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)),
		retry.WithDestroyed(c.destroyed),
		retry.WithLogger(c.logger),
	)
	c.ingestor = ingest.New(c.api,
		ingest.WithAdapter(c.adapter),
		ingest.WithInvoker(c.invoker),
		ingest.WithMaxBytes(c.cfg.UploadLimit),
		ingest.WithTimeout(c.cfg.IngestTimeout),
		ingest.WithLogger(c.logger),
	)
	c.executor = poll.New(
		poll.WithInterval(c.cfg.PollInterval),
		poll.WithBackoff(backoff.NewExponential(c.cfg.PollInterval, c.cfg.PollMaxInterval)),
		poll.WithErrorBudgets(c.cfg.ConsecutiveErrorLimit, c.cfg.TotalErrorLimit),
		poll.WithMaxWait(c.cfg.MaxWait),
		poll.WithDestroyed(c.destroyed),
		poll.WithLogger(c.logger),
	)
	c.downloader = artifact.NewDownloader(c.api.Fetch,
		artifact.WithBatchSize(c.cfg.DownloadBatchSize),
		artifact.WithMemoryCeiling(c.cfg.MemoryCeiling),
		artifact.WithFileLimit(c.cfg.FileSizeLimit),
		artifact.WithRateLimit(c.cfg.DownloadRateLimit),
		artifact.WithLogger(c.logger),
	)
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) destroyed() bool {
	return c.State() == StateDestroyed
}

// Destroy tears the client down: the state flips to StateDestroyed, any
// in-flight request is aborted, and every subsequent public call fails fast
// with ErrClientDestroyed. Destroy is idempotent.
func (c *Client) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return
	}
	c.state = StateDestroyed
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	c.logger.Info("client destroyed", slog.String("client_id", c.clientID))
}

// Execute runs the whole pipeline: apply overrides, submit, wait, extract,
// download. items carry the host environment's inline binary payloads for
// image overrides.
//
// Programmer errors (an unknown node id, a malformed override) return as a
// plain error with a nil Result. Every terminal runtime failure (asset
// ingestion, submission exhausted its retries, error budgets blown,
// wall-clock timeout, download rejection) is reported inside the Result
// instead.
func (c *Client) Execute(ctx context.Context, g graph.JobGraph, overrides []override.Override, items ...ingest.Item) (*Result, error) {
	runCtx, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release()

	runCtx, span := c.tracer.Start(runCtx, "atelier.execute",
		trace.WithAttributes(
			attribute.String("atelier.client_id", c.clientID),
			attribute.Int("atelier.graph_nodes", len(g)),
			attribute.Int("atelier.overrides", len(overrides)),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	if err := g.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	engine := c.engine
	if engine == nil {
		engine = override.NewEngine(
			override.WithIngestor(&itemIngestor{ingestor: c.ingestor, items: items}),
			override.WithLogger(c.logger),
		)
	}
	prepared, err := engine.Apply(runCtx, g, overrides)
	if err != nil {
		// Apply mixes programmer errors (unknown node, malformed override)
		// with runtime ingest failures (URL fetch, size gate, upload). Only
		// the latter carry a runtime kind and belong inside the Result.
		var ae *atelier.Error
		if errors.As(err, &ae) && ae.Kind != atelier.KindValidation {
			return c.fail(span, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	submitCtx, submitSpan := c.tracer.Start(runCtx, "atelier.submit")
	jobID, err := retry.DoValue(submitCtx, c.invoker, "submit", func(ctx context.Context) (string, error) {
		return c.api.Submit(ctx, prepared, c.clientID)
	})
	if err != nil {
		endSpan(submitSpan, err)
		return c.fail(span, err)
	}
	submitSpan.SetAttributes(attribute.String("atelier.job_id", jobID))
	endSpan(submitSpan, nil)
	span.SetAttributes(attribute.String("atelier.job_id", jobID))
	c.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.Int("nodes", len(prepared)),
	)

	stopWatch := c.startProgress(runCtx, jobID)
	pollCtx, pollSpan := c.tracer.Start(runCtx, "atelier.poll",
		trace.WithAttributes(attribute.String("atelier.job_id", jobID)))
	res, err := c.executor.Wait(pollCtx, jobID, func(ctx context.Context) (*poll.Status, error) {
		st, err := c.api.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &poll.Status{
			Completed: st.Completed,
			Failed:    st.Failed,
			Message:   st.Message,
			Outputs:   st.Outputs,
		}, nil
	})
	stopWatch()
	if err != nil {
		endSpan(pollSpan, err)
		return c.fail(span, err)
	}
	if res.Outcome != poll.OutcomeCompleted {
		endSpan(pollSpan, res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return &Result{Success: false, Err: res.Err}, nil
	}
	endSpan(pollSpan, nil)

	refs := artifact.Extract(res.Outputs)
	dlCtx, dlSpan := c.tracer.Start(runCtx, "atelier.download",
		trace.WithAttributes(attribute.Int("atelier.artifacts", len(refs))))
	downloaded, err := c.downloader.FetchAll(dlCtx, refs)
	if err != nil {
		endSpan(dlSpan, err)
		span.SetStatus(codes.Error, err.Error())
		return &Result{Success: false, Raw: res.Outputs, Err: err}, nil
	}
	endSpan(dlSpan, nil)

	span.SetStatus(codes.Ok, "")
	return &Result{
		Success:   true,
		Artifacts: downloaded,
		Raw:       res.Outputs,
	}, nil
}

// acquire takes the requesting slot or fails fast.
func (c *Client) acquire(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDestroyed:
		return nil, atelier.ErrClientDestroyed
	case StateRequesting:
		return nil, atelier.ErrRequestInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.state = StateRequesting
	c.cancelFn = cancel
	return runCtx, nil
}

// release returns the client to idle unless it was destroyed mid-flight.
func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	if c.state == StateRequesting {
		c.state = StateIdle
	}
}

// endSpan closes a child span, recording err when the stage failed.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// fail records the error on the span and wraps it into a Result. Teardown
// and cancellation surface as plain errors: there is no job outcome to
// report. A cancellation caused by Destroy reports as teardown, since
// Destroy cancels the run context and the loop may observe either first.
func (c *Client) fail(span trace.Span, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if atelier.KindOf(err) == atelier.KindCancelled && c.destroyed() {
		err = atelier.E(atelier.KindDestroyed, "client", "execution aborted by Destroy", err)
	}
	switch atelier.KindOf(err) {
	case atelier.KindDestroyed, atelier.KindCancelled:
		return nil, err
	}
	return &Result{Success: false, Err: err}, nil
}

// startProgress opens the WebSocket event stream when enabled and logs
// execution progress until the returned stop function is called. Progress is
// advisory: a failed dial degrades to polling silently.
func (c *Client) startProgress(ctx context.Context, jobID string) func() {
	if !c.watch {
		return func() {}
	}
	stream, err := progress.Dial(ctx, c.base, c.clientID, progress.WithLogger(c.logger))
	if err != nil {
		c.logger.Debug("progress stream unavailable", slog.String("error", err.Error()))
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range stream.Events() {
			if evt.JobID != "" && evt.JobID != jobID {
				continue
			}
			switch evt.Type {
			case progress.EventProgress:
				c.logger.Debug("job progress",
					slog.String("job_id", jobID),
					slog.Int("value", evt.Value),
					slog.Int("max", evt.Max),
				)
			case progress.EventExecuting:
				c.logger.Debug("node executing",
					slog.String("job_id", jobID),
					slog.String("node", evt.Node),
				)
			}
		}
	}()
	return func() {
		_ = stream.Close()
		<-done
	}
}

// itemIngestor binds the ingestor to one Execute call's input items.
type itemIngestor struct {
	ingestor *ingest.Ingestor
	items    []ingest.Item
}

func (ii *itemIngestor) FromURL(ctx context.Context, url string) (string, error) {
	return ii.ingestor.FromURL(ctx, url)
}

func (ii *itemIngestor) FromBinary(ctx context.Context, key string) (string, error) {
	return ii.ingestor.FromItems(ctx, ii.items, key)
}
