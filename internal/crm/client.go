// Package crm reads deals, their attached files and custom field definitions from the CRM
// REST API.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPError is a non-2xx CRM response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crm http %d", e.StatusCode)
	}
	return fmt.Sprintf("crm http %d: %s", e.StatusCode, e.Message)
}

// Client talks to the CRM API with a token passed as the api_token query parameter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// envelope is the wrapper every CRM JSON response comes in.
type envelope struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data"`
	Error          string          `json:"error"`
	AdditionalData struct {
		Pagination struct {
			MoreItemsInCollection bool `json:"more_items_in_collection"`
			NextStart             int  `json:"next_start"`
		} `json:"pagination"`
	} `json:"additional_data"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var env envelope
		_ = json.Unmarshal(payload, &env)
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values) (*envelope, error) {
	resp, err := c.get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if !env.Success {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	return &env, nil
}

// getPaged calls fn with the data page of every page of a paginated listing.
func (c *Client) getPaged(ctx context.Context, path string, fn func(data json.RawMessage) error) error {
	start := 0
	for {
		q := url.Values{}
		q.Set("start", fmt.Sprint(start))
		q.Set("limit", "100")
		env, err := c.getJSON(ctx, path, q)
		if err != nil {
			return err
		}
		if err := fn(env.Data); err != nil {
			return err
		}
		p := env.AdditionalData.Pagination
		if !p.MoreItemsInCollection || p.NextStart <= start {
			return nil
		}
		start = p.NextStart
	}
}

// fileNameFromDisposition returns the filename of a Content-Disposition header, decoding the
// RFC 5987 filename* form.
func fileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
