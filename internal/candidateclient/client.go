// Package candidateclient talks to the external Candidate Record
// Service: candidate lookup at session start and the final idempotent
// submit carrying answers, proctoring state and recordings.
package candidateclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// Candidate is the service's view of one authenticated candidate.
type Candidate struct {
	ID            string `json:"candidateId"`
	FullName      string `json:"fullName"`
	Email         string `json:"email"`
	QuestionSetID string `json:"questionSetId"`
}

// Response is one answered question in the submit payload. IsCorrect
// is only set for auto-graded question types.
type Response struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	IsCorrect  *bool  `json:"isCorrect,omitempty"`
}

// RecordingUpload is one finalized capture attached to the submit.
type RecordingUpload struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
	Data     []byte `json:"-"`
}

// SubmitPayload is the final state of one exam attempt. The service
// treats it as idempotent by candidate id, so a retried submit never
// duplicates a record.
type SubmitPayload struct {
	CandidateID      string            `json:"candidateId"`
	Score            float64           `json:"score"`
	Completed        bool              `json:"completed"`
	TimeTakenSeconds int               `json:"timeTakenSeconds"`
	ViolationCount   int               `json:"violationCount"`
	Disqualified     bool              `json:"disqualified"`
	Responses        []Response        `json:"responses"`
	Recordings       []RecordingUpload `json:"recordings"`
}

// StoredRecording is the service's durable reference for one uploaded
// blob.
type StoredRecording struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// SubmitResult is the service's acknowledgement of a submit.
type SubmitResult struct {
	Recordings []StoredRecording `json:"recordings"`
}

// Config carries the connection and retry settings for the service.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Client is an HTTP client for the Candidate Record Service.
type Client struct {
	logger hclog.Logger
	config Config
	http   *http.Client
}

// NewClient creates a client. Timeout and retry settings fall back to
// sane defaults when zero.
func NewClient(logger hclog.Logger, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	return &Client{
		logger: logger.Named("candidate-client"),
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Lookup authenticates a candidate by assessment credentials. A wrong
// credential pair returns an error; the session never opens without a
// successful lookup.
func (c *Client) Lookup(ctx context.Context, username, password string) (*Candidate, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/candidates/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candidate lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("candidate lookup rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candidate lookup failed: status %d", resp.StatusCode)
	}

	var candidate Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidate); err != nil {
		return nil, fmt.Errorf("candidate lookup decode: %w", err)
	}
	return &candidate, nil
}

// Submit uploads the final attempt state. It retries transient
// failures with exponential backoff up to the configured cap; the
// caller finalizes the session whether or not the submit ultimately
// succeeded.
func (c *Client) Submit(ctx context.Context, payload SubmitPayload) (*SubmitResult, error) {
	var result *SubmitResult

	operation := func() error {
		r, err := c.submitOnce(ctx, payload)
		if err != nil {
			c.logger.Warn("submit attempt failed", "candidate_id", payload.CandidateID, "error", err)
			return err
		}
		result = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.InitialInterval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, c.config.MaxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("submit exhausted retries: %w", err)
	}
	return result, nil
}

// submitOnce performs a single multipart submit: one JSON payload part
// plus one file part per recording.
func (c *Client) submitOnce(ctx context.Context, payload SubmitPayload) (*SubmitResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	meta, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	part, err := writer.CreateFormField("payload")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, err
	}

	for _, rec := range payload.Recordings {
		file, err := writer.CreateFormFile("recording_"+rec.Kind, rec.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := file.Write(rec.Data); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/candidates/%s/submission", c.config.BaseURL, payload.CandidateID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("submit failed: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors will not heal on retry.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("submit rejected: status %d: %s", resp.StatusCode, body))
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// An acknowledged submit with an unreadable body still counts.
		c.logger.Warn("submit result decode failed", "error", err)
		return &SubmitResult{}, nil
	}
	return &result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
}
