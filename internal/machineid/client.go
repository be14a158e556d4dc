package machineid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Endpoint paths and headers owned by the licensing service.
const (
	DefaultBaseURL = "https://machineid.io"
	RegisterPath   = "/api/v1/devices/register"
	ValidatePath   = "/api/v1/devices/validate"
	HeaderOrgKey   = "x-org-key"
)

// DefaultTimeout bounds each call when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client calls the register and validate endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. An empty base URL selects DefaultBaseURL.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// BaseURL returns the normalised service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register announces deviceID under orgKey. A non-nil error means the call
// failed outright; a Registration whose OK() is false means the service
// answered but did not confirm the slot.
func (c *Client) Register(ctx context.Context, orgKey, deviceID string) (Registration, error) {
	status, body, err := c.post(ctx, RegisterPath, orgKey, deviceID)
	if err != nil {
		return Registration{}, fmt.Errorf("register: %w", err)
	}

	if status >= http.StatusBadRequest {
		apiErr := newAPIError("register", status, body)
		return Registration{Status: "error", Error: apiErr.Message, HTTPStatus: status}, apiErr
	}

	var reg Registration
	if err := json.Unmarshal(body, &reg); err != nil {
		return Registration{HTTPStatus: status}, fmt.Errorf("decode register response: %w", err)
	}
	reg.HTTPStatus = status
	return reg, nil
}

// Validate asks whether deviceID may run. The returned Decision always
// carries whatever decision fields could be read, even alongside an error;
// Allowed is false whenever err is non-nil.
func (c *Client) Validate(ctx context.Context, orgKey, deviceID string) (Decision, error) {
	status, body, err := c.post(ctx, ValidatePath, orgKey, deviceID)
	if err != nil {
		return Decision{}, fmt.Errorf("validate: %w", err)
	}

	decision, parseErr := ParseDecision(body)
	decision.HTTPStatus = status

	if status >= http.StatusBadRequest {
		decision.Allowed = false
		return decision, newAPIError("validate", status, body)
	}
	if parseErr != nil {
		return decision, parseErr
	}
	return decision, nil
}

func (c *Client) post(ctx context.Context, path, orgKey, deviceID string) (int, []byte, error) {
	payload, err := json.Marshal(map[string]string{"deviceId": deviceID})
	if err != nil {
		return 0, nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set(HeaderOrgKey, orgKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return response.StatusCode, body, nil
}

// ParseDecision decodes a validate response body. Decoding never grants
// permission: Allowed is set only for the literal true.
func ParseDecision(body []byte) (Decision, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Decision{}, fmt.Errorf("decode validate response: %w", err)
	}

	var d Decision
	if raw, ok := fields["allowed"]; ok {
		trimmed := bytes.TrimSpace(raw)
		d.RawAllowed = string(trimmed)
		d.Allowed = bytes.Equal(trimmed, []byte("true"))
	}
	d.Code = jsonText(fields["code"])
	d.RequestID = jsonText(fields["request_id"])
	return d, nil
}

// jsonText renders a JSON string as its contents and anything else as raw
// JSON. Absent and null members render as "".
func jsonText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func newAPIError(op string, status int, body []byte) *APIError {
	message := fmt.Sprintf("HTTP %d", status)

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if text := jsonText(payload.Error); text != "" {
			message = text
		}
	}
	return &APIError{Op: op, StatusCode: status, Message: message}
}
