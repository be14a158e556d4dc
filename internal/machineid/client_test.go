package machineid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/devicegate/internal/testutil"
)

func TestNewClient_BaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient(Options{}).BaseURL())
	assert.Equal(t, "https://example.test", NewClient(Options{BaseURL: " https://example.test// "}).BaseURL())
}

func TestRegister_WireFormat(t *testing.T) {
	var (
		gotMethod, gotPath, gotKey, gotType string
		gotBody                             map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-org-key")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"status":"ok","deviceId":"dev-1","planTier":"pro","limit":10,"devicesUsed":4}`))
	}))
	defer server.Close()

	reg, err := NewClient(Options{BaseURL: server.URL}).Register(context.Background(), "org_abc", "dev-1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, RegisterPath, gotPath)
	assert.Equal(t, "org_abc", gotKey)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, map[string]any{"deviceId": "dev-1"}, gotBody)

	assert.True(t, reg.OK())
	assert.Equal(t, "dev-1", reg.DeviceID)
	assert.Equal(t, "pro", reg.PlanTier)
	require.NotNil(t, reg.Limit)
	assert.Equal(t, 10, *reg.Limit)
	require.NotNil(t, reg.DevicesUsed)
	assert.Equal(t, 4, *reg.DevicesUsed)
	assert.Equal(t, http.StatusOK, reg.HTTPStatus)
}

func TestRegister_Idempotent(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	client := NewClient(Options{BaseURL: server.URL})
	ctx := context.Background()

	first, err := client.Register(ctx, testutil.TestOrgKey, "langchain:agent-01")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, first.Status)

	second, err := client.Register(ctx, testutil.TestOrgKey, "langchain:agent-01")
	require.NoError(t, err)
	assert.Equal(t, StatusExists, second.Status)
	assert.True(t, second.OK())

	assert.Equal(t, []string{"langchain:agent-01"}, server.Devices())
}

func TestRegister_HTTPErrorNormalised(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusForbidden, `{"error":"device limit reached"}`, "device limit reached"},
		{"no error field", http.StatusBadGateway, `{"detail":"upstream"}`, "HTTP 502"},
		{"not json", http.StatusInternalServerError, `oops`, "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			reg, err := NewClient(Options{BaseURL: server.URL}).Register(context.Background(), "org_x", "d")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, "error", reg.Status)
			assert.Equal(t, tt.message, reg.Error)
			assert.False(t, reg.OK())
		})
	}
}

func TestRegister_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	_, err := NewClient(Options{BaseURL: server.URL}).Register(context.Background(), "org_x", "d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode register response")
}

func TestRegister_Timeout(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	server.SetRegisterDelay(5 * time.Second)

	client := NewClient(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Register(context.Background(), testutil.TestOrgKey, "dev")
	require.Error(t, err)
}

func TestValidate_Allowed(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	client := NewClient(Options{BaseURL: server.URL})
	ctx := context.Background()

	_, err := client.Register(ctx, testutil.TestOrgKey, "dev-1")
	require.NoError(t, err)

	d, err := client.Validate(ctx, testutil.TestOrgKey, "dev-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "true", d.RawAllowed)
	assert.Equal(t, "OK", d.Code)
	assert.Equal(t, "req-1", d.RequestID)

	requests := server.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, ValidatePath, requests[1].Path)
	assert.Equal(t, testutil.TestOrgKey, requests[1].OrgKey)
	assert.Equal(t, "dev-1", requests[1].DeviceID)
}

func TestValidate_OnlyLiteralTrueAllows(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		allowed bool
		raw     string
	}{
		{"true", `{"allowed":true,"code":"OK","request_id":"r1"}`, true, "true"},
		{"false", `{"allowed":false,"code":"LIMIT_EXCEEDED","request_id":"r2"}`, false, "false"},
		{"missing", `{"code":"OK","request_id":"r3"}`, false, ""},
		{"string true", `{"allowed":"true","code":"OK","request_id":"r4"}`, false, `"true"`},
		{"null", `{"allowed":null,"code":"OK","request_id":"r5"}`, false, "null"},
		{"number", `{"allowed":1,"code":"OK","request_id":"r6"}`, false, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewLicensingServer(t)
			server.SetValidateResponse(http.StatusOK, tt.body)

			d, err := NewClient(Options{BaseURL: server.URL}).Validate(context.Background(), testutil.TestOrgKey, "dev")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.raw, d.RawAllowed)
		})
	}
}

func TestValidate_ErrorStatusNeverAllows(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	server.SetValidateResponse(http.StatusForbidden, `{"allowed":true,"code":"SUSPENDED","request_id":"r9","error":"org suspended"}`)

	d, err := NewClient(Options{BaseURL: server.URL}).Validate(context.Background(), testutil.TestOrgKey, "dev")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "org suspended", apiErr.Message)

	assert.False(t, d.Allowed)
	assert.Equal(t, "SUSPENDED", d.Code)
	assert.Equal(t, "r9", d.RequestID)
	assert.Equal(t, http.StatusForbidden, d.HTTPStatus)
}

func TestValidate_MalformedBody(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	server.SetValidateResponse(http.StatusOK, `not json`)

	d, err := NewClient(Options{BaseURL: server.URL}).Validate(context.Background(), testutil.TestOrgKey, "dev")
	require.Error(t, err)
	assert.False(t, d.Allowed)
}

func TestValidate_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	d, err := NewClient(Options{BaseURL: url}).Validate(context.Background(), "org_x", "dev")
	require.Error(t, err)
	assert.False(t, d.Allowed)
}

func TestValidate_ContextCancelled(t *testing.T) {
	server := testutil.NewLicensingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(Options{BaseURL: server.URL}).Validate(ctx, testutil.TestOrgKey, "dev")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDecision_NonStringFields(t *testing.T) {
	d, err := ParseDecision([]byte(`{"allowed":false,"code":42,"request_id":{"id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", d.Code)
	assert.Equal(t, `{"id":"x"}`, d.RequestID)
}

func TestParseDecision_NotAnObject(t *testing.T) {
	_, err := ParseDecision([]byte(`[true]`))
	require.Error(t, err)

	d, err := ParseDecision([]byte(`null`))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.RawAllowed)
}
