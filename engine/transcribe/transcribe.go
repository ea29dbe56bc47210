// Package transcribe turns an audio track into full text plus time-coded
// segments via an external asynchronous speech service. Jobs are submitted
// once and polled until they complete, fail, or the bounded poll window
// runs out.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/pkg/fn"
)

// Poll loop bounds: 100 attempts at 3s is a five minute ceiling.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 100
)

// JobStatus is the provider-side state of a transcription job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// Job is one transcription job as reported by the provider.
type Job struct {
	ID       string                     `json:"id"`
	Status   JobStatus                  `json:"status"`
	Text     string                     `json:"text,omitempty"`
	Segments []domain.TranscriptSegment `json:"segments,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// Provider is the capability interface for an async speech service.
type Provider interface {
	Submit(ctx context.Context, audio []byte) (string, error)
	Poll(ctx context.Context, jobID string) (Job, error)
}

// Client talks to an async speech-to-text HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a transcription client for the given API.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

var _ Provider = (*Client)(nil)

// Submit uploads the audio track and returns the provider job id.
func (c *Client) Submit(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: %w: empty audio", domain.ErrInvalidInput)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcripts", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("transcribe: submit: status %d", resp.StatusCode)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("transcribe: submit decode: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("transcribe: submit: provider returned no job id")
	}
	return job.ID, nil
}

// Poll fetches the current state of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (Job, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Job{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transcripts/"+jobID, nil)
	if err != nil {
		return Job{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, fmt.Errorf("transcribe: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Job{}, fmt.Errorf("transcribe: poll: status %d", resp.StatusCode)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return Job{}, fmt.Errorf("transcribe: poll decode: %w", err)
	}
	return job, nil
}

// AwaitOpts bounds the poll loop.
type AwaitOpts struct {
	Interval    time.Duration
	MaxAttempts int
}

// Await polls jobID until the job reaches a terminal status, the attempt
// budget runs out, or ctx is cancelled.
func Await(ctx context.Context, p Provider, jobID string, opts AwaitOpts) (Job, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		job, err := p.Poll(ctx, jobID)
		if err != nil {
			return Job{}, fmt.Errorf("%w: %v", domain.ErrTranscription, err)
		}

		switch job.Status {
		case JobCompleted:
			return job, nil
		case JobError:
			return Job{}, fmt.Errorf("%w: provider error: %s", domain.ErrTranscription, job.Error)
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return Job{}, fmt.Errorf("%w: job %s did not complete within %d attempts",
		domain.ErrTranscription, jobID, opts.MaxAttempts)
}

// submitRetry bounds re-submission of the upload. It only covers the hop
// before any provider-side job exists; Await owns the poll loop.
var submitRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// Transcribe submits audio, retrying transient submission failures, and
// waits for the finished job.
func Transcribe(ctx context.Context, p Provider, audio []byte, opts AwaitOpts) (Job, error) {
	submitted := fn.Retry(ctx, submitRetry, func(ctx context.Context) fn.Result[string] {
		return fn.FromPair(p.Submit(ctx, audio))
	})
	jobID, err := submitted.Unwrap()
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", domain.ErrTranscription, err)
	}
	return Await(ctx, p, jobID, opts)
}
