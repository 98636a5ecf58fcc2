package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auth"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/httpserver"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/requestid"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// BreakerFailures consecutive server-side failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	// Signer, when set, signs every request for a dispatcher that
	// authenticates its callers.
	Signer *auth.Signer
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dispatcher returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("dispatcher returned %d %s", e.Status, e.Code)
}

// Unwrap maps well-known answers back onto the errors the engine returns in
// process, so callers can use errors.Is the same way for both.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return repo.ErrNotFound
	case e.Code == "validation_failed":
		return &specvalidator.ValidationError{Message: e.Message}
	case e.Code == "invalid_status":
		return domain.ErrInvalidStatus
	case e.Code == "already_terminal":
		return domain.ErrTerminal
	case e.Code == "invalid_transition":
		return domain.ErrInvalidTransition
	}
	return nil
}

// Client talks to a dispatcher over HTTP. Calls go through a circuit
// breaker so a dead dispatcher fails fast instead of stalling every worker
// slot.
type Client struct {
	logger  *slog.Logger
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	signer  *auth.Signer
}

var (
	_ comm.Layer = (*Client)(nil)
	_ Engine     = (*Client)(nil)
)

func NewClient(logger *slog.Logger, cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("httpapi: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("httpapi: base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatcher",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{logger: logger, baseURL: base, http: httpClient, breaker: breaker, signer: cfg.Signer}, nil
}

func (c *Client) Submit(ctx context.Context, req dispatch.SubmitRequest) (domain.PipelineExecution, error) {
	body := SubmitBody{
		PipelineID: req.PipelineID,
		CommitHash: req.CommitHash,
		IsLocal:    req.IsLocal,
	}
	if len(req.Definition.Stages) > 0 || req.Definition.Name != "" {
		def := req.Definition
		body.Definition = &def
	}
	var out domain.PipelineExecution
	err := c.do(ctx, http.MethodPost, "/v1/pipelines/runs", body, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, pipelineExecutionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/pipeline-executions/"+url.PathEscape(pipelineExecutionID)+"/cancel", nil, nil)
}

func (c *Client) PipelineStatus(ctx context.Context, pipelineExecutionID string) (dispatch.StatusReport, error) {
	var out dispatch.StatusReport
	err := c.do(ctx, http.MethodGet, "/v1/pipeline-executions/"+url.PathEscape(pipelineExecutionID), nil, &out)
	return out, err
}

func (c *Client) ListRuns(ctx context.Context, pipelineID string) ([]dispatch.RunSummary, error) {
	var out RunsBody
	if err := c.do(ctx, http.MethodGet, "/v1/pipelines/"+url.PathEscape(pipelineID)+"/runs", nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) RunStatus(ctx context.Context, pipelineID string, runNumber int) (dispatch.StatusReport, error) {
	var out dispatch.StatusReport
	err := c.do(ctx, http.MethodGet, "/v1/pipelines/"+url.PathEscape(pipelineID)+"/runs/"+strconv.Itoa(runNumber), nil, &out)
	return out, err
}

func (c *Client) GetJobDependencies(ctx context.Context, jobExecutionID string) ([]string, error) {
	var out DependenciesBody
	if err := c.do(ctx, http.MethodGet, jobPath(jobExecutionID, "/dependencies"), nil, &out); err != nil {
		return nil, err
	}
	return out.Dependencies, nil
}

func (c *Client) GetJobStatus(ctx context.Context, jobExecutionID string) (domain.Status, error) {
	var out StatusBody
	if err := c.do(ctx, http.MethodGet, jobPath(jobExecutionID, "/status"), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) ReportJobStatus(ctx context.Context, jobExecutionID string, status domain.Status, logs string) error {
	return c.do(ctx, http.MethodPost, jobPath(jobExecutionID, "/status"), StatusBody{Status: status, Logs: logs}, nil)
}

func (c *Client) EnqueueJob(ctx context.Context, jobExecutionID string) error {
	return c.do(ctx, http.MethodPost, jobPath(jobExecutionID, "/enqueue"), nil, nil)
}

func (c *Client) ListJobExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error) {
	var out JobsBody
	if err := c.do(ctx, http.MethodGet, "/v1/pipeline-executions/"+url.PathEscape(pipelineExecutionID)+"/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) GetJobSnapshot(ctx context.Context, jobExecutionID string) (comm.JobSnapshot, error) {
	var out comm.JobSnapshot
	err := c.do(ctx, http.MethodGet, jobPath(jobExecutionID, ""), nil, &out)
	return out, err
}

func jobPath(jobExecutionID, suffix string) string {
	return "/v1/jobs/" + url.PathEscape(jobExecutionID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// The request id is part of the signature, so one is always sent.
	id, ok := requestid.FromContext(ctx)
	if !ok {
		id = requestid.New()
	}
	req.Header.Set(requestid.Header, id)
	if err := c.signer.Sign(req); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var eb httpserver.ErrorBody
		if json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&eb) == nil && eb.Error != "" {
			apiErr.Code = eb.Error
			apiErr.Message = eb.Message
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
