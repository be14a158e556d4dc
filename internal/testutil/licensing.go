package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// TestOrgKey is the organization key a LicensingServer accepts by default.
const TestOrgKey = "org_test_0123456789"

// LicensingServer is an in-process stand-in for the MachineID.io API with
// create-or-confirm registration semantics.
//
// Validate answers with ValidateBody when set; otherwise registered devices
// are allowed and unknown ones are refused with DEVICE_NOT_REGISTERED.
type LicensingServer struct {
	*httptest.Server

	mu             sync.Mutex
	orgKey         string
	limit          int
	devices        []string
	registerCalls  int
	validateCalls  int
	registerDelay  time.Duration
	validateStatus int
	validateBody   string
	requests       []RecordedRequest
}

// RecordedRequest is one call seen by the server.
type RecordedRequest struct {
	Path     string
	OrgKey   string
	DeviceID string
}

// NewLicensingServer starts a server accepting TestOrgKey with a three-device
// limit. It is closed when the test ends.
func NewLicensingServer(t testing.TB) *LicensingServer {
	t.Helper()

	s := &LicensingServer{orgKey: TestOrgKey, limit: 3}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/devices/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/devices/validate", s.handleValidate)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetLimit changes the device slot limit.
func (s *LicensingServer) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = n
}

// SetRegisterDelay makes register hold the request for d, or until the
// client gives up.
func (s *LicensingServer) SetRegisterDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerDelay = d
}

// SetValidateResponse fixes the validate status code and raw body.
func (s *LicensingServer) SetValidateResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validateStatus = status
	s.validateBody = body
}

// RegisterCalls returns how many register requests arrived.
func (s *LicensingServer) RegisterCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerCalls
}

// ValidateCalls returns how many validate requests arrived.
func (s *LicensingServer) ValidateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateCalls
}

// Devices returns the registered device slots in registration order.
func (s *LicensingServer) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.devices...)
}

// Requests returns every request seen so far.
func (s *LicensingServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *LicensingServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.accept(w, r)

	s.mu.Lock()
	s.registerCalls++
	delay := s.registerDelay
	s.mu.Unlock()

	if !ok {
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.devices {
		if d == deviceID {
			writeJSON(w, http.StatusOK, s.registrationBody("exists", deviceID))
			return
		}
	}
	if len(s.devices) >= s.limit {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "device limit reached"})
		return
	}
	s.devices = append(s.devices, deviceID)
	writeJSON(w, http.StatusOK, s.registrationBody("ok", deviceID))
}

func (s *LicensingServer) registrationBody(status, deviceID string) map[string]any {
	return map[string]any{
		"status":      status,
		"deviceId":    deviceID,
		"planTier":    "free",
		"limit":       s.limit,
		"devicesUsed": len(s.devices),
	}
}

func (s *LicensingServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.accept(w, r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.validateCalls++
	if !ok {
		return
	}

	if s.validateBody != "" || s.validateStatus != 0 {
		status := s.validateStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(s.validateBody))
		return
	}

	requestID := fmt.Sprintf("req-%d", s.validateCalls)
	for _, d := range s.devices {
		if d == deviceID {
			writeJSON(w, http.StatusOK, map[string]any{"allowed": true, "code": "OK", "request_id": requestID})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": false, "code": "DEVICE_NOT_REGISTERED", "request_id": requestID})
}

// accept records the request and checks the org key and body. It writes the
// error response itself and reports false when the request is rejected.
func (s *LicensingServer) accept(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload struct {
		DeviceID string `json:"deviceId"`
	}
	decodeErr := json.NewDecoder(r.Body).Decode(&payload)
	orgKey := r.Header.Get("x-org-key")

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Path: r.URL.Path, OrgKey: orgKey, DeviceID: payload.DeviceID})
	expected := s.orgKey
	s.mu.Unlock()

	switch {
	case orgKey != expected:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid org key"})
		return "", false
	case decodeErr != nil || payload.DeviceID == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "deviceId is required"})
		return "", false
	}
	return payload.DeviceID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
