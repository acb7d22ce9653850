// Package ecobee reads and writes the registered thermostat over the vendor's
// JSON API.
package ecobee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/thermoctl/internal/logger"
	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

const thermostatPath = "/1/thermostat"

// statusAuthExpired is the vendor status code for an expired access token.
const statusAuthExpired = 14

var ErrNoThermostat = errors.New("no registered thermostat")

// HTTPStatusError is a non-2xx response without a vendor status body.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("ecobee api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// APIError is a vendor status code other than success.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e APIError) Error() string {
	return fmt.Sprintf("ecobee api status %d: %s", e.Code, e.Message)
}

// Client talks to the thermostat API.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	location   *time.Location
	log        *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithLocation sets the zone event end times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.location = loc }
}

func NewClient(baseURL string, tokens oauth2.TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = oauth.DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		location:   time.Local,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Thermostat fetches the first registered thermostat.
func (c *Client) Thermostat(ctx context.Context) (thermostat.Snapshot, error) {
	body, err := json.Marshal(readRequest{Selection: readSelection()})
	if err != nil {
		return thermostat.Snapshot{}, err
	}
	query := url.Values{"format": {"json"}, "body": {string(body)}}

	var resp thermostatResponse
	if err := c.getJSON(ctx, thermostatPath+"?"+query.Encode(), &resp); err != nil {
		return thermostat.Snapshot{}, err
	}
	if resp.Status.Code != 0 {
		return thermostat.Snapshot{}, statusError(http.StatusOK, resp.Status)
	}
	if len(resp.ThermostatList) == 0 {
		return thermostat.Snapshot{}, ErrNoThermostat
	}
	if len(resp.ThermostatList) > 1 {
		c.log.Debugw("multiple thermostats registered, using the first", "count", len(resp.ThermostatList))
	}
	return resp.ThermostatList[0].snapshot(c.location), nil
}

// SetHold sends one setHold function. A rejected command comes back as a
// non-OK Status with a nil error; only auth expiry and transport failures are
// errors.
func (c *Client) SetHold(ctx context.Context, params thermostat.HoldParams) (thermostat.Status, error) {
	payload := writeRequest{
		Selection: registered(),
		Functions: []holdFunction{{Type: "setHold", Params: toWireHold(params)}},
	}

	var resp envelope
	err := c.postJSON(ctx, thermostatPath+"?format=json", payload, &resp)
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return thermostat.Status{Code: apiErr.Code, Message: apiErr.Message}, nil
	}
	if err != nil {
		return thermostat.Status{}, err
	}
	return thermostat.Status{Code: resp.Status.Code, Message: resp.Status.Message}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debugw("ecobee request", "method", method, "path", strings.SplitN(path, "?", 2)[0])
	return c.httpClient.Do(req)
}

// decodeResponse maps vendor status bodies to errors. The vendor reports
// most failures, auth expiry included, as a status object on a 5xx.
func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var env envelope
		if err := json.Unmarshal(data, &env); err == nil && env.Status.Code != 0 {
			return statusError(resp.StatusCode, env.Status)
		}
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode ecobee response: %w", err)
	}
	return nil
}

func statusError(httpStatus int, s status) error {
	if s.Code == statusAuthExpired {
		return fmt.Errorf("%w: %s", oauth.ErrAuthExpired, s.Message)
	}
	return APIError{HTTPStatus: httpStatus, Code: s.Code, Message: s.Message}
}
