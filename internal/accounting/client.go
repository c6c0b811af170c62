// Package accounting is a small client for the accounting system's REST API
// (QuickBooks Online v3 shape). Only the customer and invoice entities the
// sync handlers use are covered.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the remote entity does not exist.
var ErrNotFound = errors.New("accounting: entity not found")

// TokenSource supplies the OAuth bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("accounting: access token not configured")
	}
	return string(t), nil
}

// APIError represents a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("accounting API error (%d): %s", e.StatusCode, e.Message)
}

// Client calls the company-scoped v3 endpoints.
type Client struct {
	BaseURL    string
	RealmID    string
	Tokens     TokenSource
	HTTPClient *http.Client
}

func NewClient(baseURL, realmID string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		RealmID: realmID,
		Tokens:  tokens,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ref points at another entity by id.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type EmailAddress struct {
	Address string `json:"Address,omitempty"`
}

type PhoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber,omitempty"`
}

type Customer struct {
	ID               string        `json:"Id,omitempty"`
	SyncToken        string        `json:"SyncToken,omitempty"`
	Sparse           bool          `json:"sparse,omitempty"`
	DisplayName      string        `json:"DisplayName,omitempty"`
	PrimaryEmailAddr *EmailAddress `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *PhoneNumber  `json:"PrimaryPhone,omitempty"`
	Active           *bool         `json:"Active,omitempty"`
}

type Invoice struct {
	ID          string  `json:"Id,omitempty"`
	SyncToken   string  `json:"SyncToken,omitempty"`
	Sparse      bool    `json:"sparse,omitempty"`
	DocNumber   string  `json:"DocNumber,omitempty"`
	CustomerRef *Ref    `json:"CustomerRef,omitempty"`
	TotalAmt    float64 `json:"TotalAmt,omitempty"`
	Balance     float64 `json:"Balance,omitempty"`
	DueDate     string  `json:"DueDate,omitempty"`
}

// GetCustomer fetches a customer by remote id.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodGet, "customer/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// GetInvoice fetches an invoice by remote id.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var out struct {
		Invoice Invoice `json:"Invoice"`
	}
	if err := c.do(ctx, http.MethodGet, "invoice/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Invoice, nil
}

// CreateCustomer creates a customer. requestID makes a replayed create return
// the originally created entity instead of a duplicate.
func (c *Client) CreateCustomer(ctx context.Context, requestID string, cust *Customer) (*Customer, error) {
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodPost, "customer", requestQuery(requestID), cust, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// UpdateCustomer sends a sparse update; ID and SyncToken must be set.
func (c *Client) UpdateCustomer(ctx context.Context, cust *Customer) (*Customer, error) {
	cust.Sparse = true
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodPost, "customer", nil, cust, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

func (c *Client) CreateInvoice(ctx context.Context, requestID string, inv *Invoice) (*Invoice, error) {
	var out struct {
		Invoice Invoice `json:"Invoice"`
	}
	if err := c.do(ctx, http.MethodPost, "invoice", requestQuery(requestID), inv, &out); err != nil {
		return nil, err
	}
	return &out.Invoice, nil
}

// UpdateInvoice sends a sparse update; ID and SyncToken must be set.
func (c *Client) UpdateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	inv.Sparse = true
	var out struct {
		Invoice Invoice `json:"Invoice"`
	}
	if err := c.do(ctx, http.MethodPost, "invoice", nil, inv, &out); err != nil {
		return nil, err
	}
	return &out.Invoice, nil
}

func requestQuery(requestID string) url.Values {
	if requestID == "" {
		return nil
	}
	return url.Values{"requestid": {requestID}}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s", c.BaseURL, url.PathEscape(c.RealmID), path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
