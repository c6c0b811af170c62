package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fieldops/pkg/api"
)

// AdminClient handles API calls to the gateway's admin routes.
type AdminClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAdminClient creates a new client with the given base URL and token.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// ListOptions filters GET /admin/jobs.
type ListOptions struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// do sends the request and decodes a response with one of the wanted statuses into out.
func (c *AdminClient) do(method, path string, out any, wantStatus ...int) error {
	httpReq, err := http.NewRequest(method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	ok := false
	for _, s := range wantStatus {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the message of an api.ErrorResponse body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// ListJobs sends GET /admin/jobs.
func (c *AdminClient) ListJobs(opts ListOptions) ([]api.JobResponse, error) {
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, "/admin/jobs"+opts.query(), &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// GetJob sends GET /admin/jobs/{id}.
func (c *AdminClient) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/admin/jobs/"+url.PathEscape(jobID), &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryJob sends POST /admin/jobs/{id}/retry to resurrect a FAILED job.
func (c *AdminClient) RetryJob(jobID string) (*api.RetryJobResponse, error) {
	var result api.RetryJobResponse
	if err := c.do(http.MethodPost, "/admin/jobs/"+url.PathEscape(jobID)+"/retry", &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// EnqueueEvent sends POST /admin/webhook-events/{id}/enqueue.
func (c *AdminClient) EnqueueEvent(eventID string) (*api.EnqueueEventResponse, error) {
	var result api.EnqueueEventResponse
	path := "/admin/webhook-events/" + url.PathEscape(eventID) + "/enqueue"
	if err := c.do(http.MethodPost, path, &result, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}
