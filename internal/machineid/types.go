package machineid

import (
	"fmt"
	"slices"
)

// Registration status values that count as success.
const (
	StatusOK     = "ok"
	StatusExists = "exists"
)

// Registration is the decoded register response.
type Registration struct {
	Status      string `json:"status"`
	DeviceID    string `json:"deviceId,omitempty"`
	PlanTier    string `json:"planTier,omitempty"`
	Limit       *int   `json:"limit,omitempty"`
	DevicesUsed *int   `json:"devicesUsed,omitempty"`
	Error       string `json:"error,omitempty"`

	// HTTPStatus is the response status code. Not part of the body.
	HTTPStatus int `json:"-"`
}

// OK reports whether the device slot was created or already existed.
func (r Registration) OK() bool {
	return slices.Contains([]string{StatusOK, StatusExists}, r.Status)
}

// Decision is the decoded validate response.
type Decision struct {
	// Allowed is true only for the JSON literal true.
	Allowed bool

	// RawAllowed is the "allowed" member exactly as received; empty when absent.
	RawAllowed string

	Code      string
	RequestID string

	HTTPStatus int
}

// APIError is returned for responses with status >= 400.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}
