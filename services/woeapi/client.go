// Package woeapi is a client of the Write on English HTTP API.
package woeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/guest"
)

const (
	apiPrefix      = "/v1"
	defaultTimeout = 15 * time.Second
)

// APIError is a non 2xx response that does not carry field errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (%d)", e.Message, e.StatusCode)
}

type Client struct {
	baseURL string
	rest    *rest.Client
}

var (
	_ guest.AccountConverter = (*Client)(nil)
	_ guest.AssignmentLookup = (*Client)(nil)
)

// NewClient returns a Client of the API at baseURL. A nil httpClient gets a default one.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid api base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + apiPrefix,
		rest:    &rest.Client{HTTPClient: httpClient},
	}, nil
}

// LookupAssignment resolves an access code; unknown or unpublished codes give assignment.ErrNotFound.
func (c *Client) LookupAssignment(ctx context.Context, code string) (assignment.Public, error) {
	var pub assignment.Public
	code = core.CleanCode(code)
	if code == "" {
		return pub, assignment.ErrNotFound
	}
	resp, err := c.send(ctx, rest.Get, "/assignments/code/"+url.PathEscape(code), nil, "")
	if err != nil {
		return pub, errors.Wrap(err, "looking up assignment")
	}
	if resp.StatusCode == http.StatusNotFound {
		return pub, assignment.ErrNotFound
	}
	if err = decode(resp, &pub); err != nil {
		return pub, errors.Wrap(err, "looking up assignment")
	}
	return pub, nil
}

// ConvertGuest creates the student account of a guest. Field errors come back as *core.ValidationError.
func (c *Client) ConvertGuest(ctx context.Context, req guest.ConversionRequest) (guest.ConversionResult, error) {
	var res guest.ConversionResult
	resp, err := c.send(ctx, rest.Post, "/guest/convert", req, "")
	if err != nil {
		return res, errors.Wrap(err, "converting guest")
	}
	if err = decode(resp, &res); err != nil {
		return res, errors.Wrap(err, "converting guest")
	}
	return res, nil
}

// Login returns an access token for username & password.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	resp, err := c.send(ctx, rest.Post, "/users/login", body, "")
	if err != nil {
		return "", errors.Wrap(err, "logging in")
	}
	var res struct {
		Token string `json:"token"`
	}
	if err = decode(resp, &res); err != nil {
		return "", errors.Wrap(err, "logging in")
	}
	return res.Token, nil
}

func (c *Client) send(ctx context.Context, method rest.Method, path string, body interface{}, token string) (*rest.Response, error) {
	req := rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request")
		}
		req.Body = data
		req.Headers["Content-Type"] = "application/json"
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	return c.rest.SendWithContext(ctx, req)
}

func decode(resp *rest.Response, dst interface{}) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal([]byte(resp.Body), dst); err != nil {
			return errors.Wrap(err, "decoding response")
		}
		return nil
	}
	return responseError(resp)
}

// responseError turns an error body into *core.ValidationError ({"field": "msg", ...})
// or *APIError ({"error": "msg"} or anything else).
func responseError(resp *rest.Response) error {
	var fields map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &fields); err != nil || len(fields) == 0 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	if msg, ok := fields["error"]; ok && len(fields) == 1 {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode != http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	flds := make([]core.FieldError, 0, len(names))
	for _, name := range names {
		flds = append(flds, core.FieldError{Field: name, Error: fields[name]})
	}
	return core.NewValidationError(nil, flds...)
}
