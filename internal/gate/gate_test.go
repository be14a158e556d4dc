package gate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/devicegate/internal/identity"
	"github.com/roach88/devicegate/internal/machineid"
	"github.com/roach88/devicegate/internal/testutil"
)

// fakeLicenser is an in-memory licensing service with create-or-confirm
// registration.
type fakeLicenser struct {
	devices     map[string]bool
	registerErr error
	decision    machineid.Decision
	validateErr error
	calls       []string
}

func newFakeLicenser() *fakeLicenser {
	return &fakeLicenser{
		devices:  make(map[string]bool),
		decision: machineid.Decision{Allowed: true, RawAllowed: "true", Code: "OK", RequestID: "r1"},
	}
}

func (f *fakeLicenser) Register(_ context.Context, _, deviceID string) (machineid.Registration, error) {
	f.calls = append(f.calls, "register")
	if f.registerErr != nil {
		return machineid.Registration{}, f.registerErr
	}
	if f.devices[deviceID] {
		return machineid.Registration{Status: machineid.StatusExists, DeviceID: deviceID}, nil
	}
	f.devices[deviceID] = true
	return machineid.Registration{Status: machineid.StatusOK, DeviceID: deviceID}, nil
}

func (f *fakeLicenser) Validate(_ context.Context, _, _ string) (machineid.Decision, error) {
	f.calls = append(f.calls, "validate")
	return f.decision, f.validateErr
}

type fakeTask struct {
	calls  int
	output string
	err    error
}

func (t *fakeTask) Run(context.Context) (string, error) {
	t.calls++
	return t.output, t.err
}

type staticResolver struct {
	id  string
	err error
}

func (r staticResolver) Resolve(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return r.id, r.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestGate(l Licenser, task Task, opts ...Option) *Gate {
	base := []Option{
		WithResolver(staticResolver{id: "langchain:agent-01"}),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		WithSleep(noSleep),
	}
	return New(l, task, append(base, opts...)...)
}

var testConfig = Config{OrgKey: "org_test", ValidateDelay: time.Second}

func TestRun_AllowedRunsTask(t *testing.T) {
	licenser := newFakeLicenser()
	task := &fakeTask{output: "1. register 2. validate 3. stop"}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.NoError(t, err)

	assert.Equal(t, []string{"register", "validate"}, licenser.calls)
	assert.Equal(t, 1, task.calls)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "langchain:agent-01", out.DeviceID)
	assert.True(t, out.Registered())
	assert.True(t, out.Decision.Allowed)
	assert.True(t, out.TaskRan)
	assert.Equal(t, "1. register 2. validate 3. stop", out.TaskOutput)
}

func TestRun_MissingCredential(t *testing.T) {
	for _, key := range []string{"", "   "} {
		licenser := newFakeLicenser()
		task := &fakeTask{}

		out, err := newTestGate(licenser, task).Run(context.Background(), Config{OrgKey: key})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Nil(t, out)
		assert.Empty(t, licenser.calls, "no network call before configuration is valid")
		assert.Zero(t, task.calls)
	}
}

func TestRun_UnresolvableIdentity(t *testing.T) {
	licenser := newFakeLicenser()
	resolver := identity.Resolver{Hostname: func() (string, error) { return "", errors.New("boom") }}

	_, err := newTestGate(licenser, &fakeTask{}, WithResolver(resolver)).Run(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorIs(t, err, identity.ErrUnresolvable)
	assert.Empty(t, licenser.calls)
}

func TestRun_EmptyIdentityIsConfigurationError(t *testing.T) {
	licenser := newFakeLicenser()

	_, err := newTestGate(licenser, &fakeTask{}, WithResolver(staticResolver{})).Run(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, licenser.calls)
}

func TestRun_DeviceOverride(t *testing.T) {
	licenser := newFakeLicenser()

	cfg := testConfig
	cfg.DeviceOverride = "crew:worker-9"
	out, err := newTestGate(licenser, &fakeTask{}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "crew:worker-9", out.DeviceID)
	assert.True(t, licenser.devices["crew:worker-9"])
}

func TestRun_RegistrationFailureIsNonFatal(t *testing.T) {
	licenser := newFakeLicenser()
	licenser.registerErr = context.DeadlineExceeded
	task := &fakeTask{output: "done"}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.NoError(t, err)

	assert.False(t, out.Registered())
	assert.Contains(t, out.RegistrationWarning, "deadline exceeded")
	assert.Equal(t, []string{"register", "validate"}, licenser.calls)
	assert.Equal(t, 1, task.calls)
}

func TestRun_RegistrationStatusNotOKIsWarning(t *testing.T) {
	licenser := &statusLicenser{fakeLicenser: newFakeLicenser(), status: "error", message: "device limit reached"}
	task := &fakeTask{}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.NoError(t, err)
	assert.Equal(t, `register returned status "error": device limit reached`, out.RegistrationWarning)
	assert.Equal(t, 1, task.calls)
}

type statusLicenser struct {
	*fakeLicenser
	status  string
	message string
}

func (s *statusLicenser) Register(context.Context, string, string) (machineid.Registration, error) {
	return machineid.Registration{Status: s.status, Error: s.message}, nil
}

func TestRun_RegistrationIdempotent(t *testing.T) {
	licenser := newFakeLicenser()
	g := newTestGate(licenser, &fakeTask{})

	first, err := g.Run(context.Background(), testConfig)
	require.NoError(t, err)
	second, err := g.Run(context.Background(), testConfig)
	require.NoError(t, err)

	assert.Equal(t, machineid.StatusOK, first.Registration.Status)
	assert.Equal(t, machineid.StatusExists, second.Registration.Status)
	assert.Empty(t, second.RegistrationWarning)
	assert.Len(t, licenser.devices, 1)
}

func TestRun_Refused(t *testing.T) {
	licenser := newFakeLicenser()
	licenser.decision = machineid.Decision{RawAllowed: "false", Code: "LIMIT_EXCEEDED", RequestID: "r2"}
	task := &fakeTask{}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsRefusal(err))
	require.NotNil(t, out)
	assert.Equal(t, "LIMIT_EXCEEDED", out.Decision.Code)
	assert.Equal(t, "r2", out.Decision.RequestID)
	assert.Zero(t, task.calls)
	assert.False(t, out.TaskRan)
}

func TestRun_ValidationErrorIsRefusal(t *testing.T) {
	licenser := newFakeLicenser()
	// A misbehaving licenser must not be able to grant access alongside an error.
	licenser.decision = machineid.Decision{Allowed: true}
	licenser.validateErr = errors.New("connection reset")
	task := &fakeTask{}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsRefusal(err))
	assert.False(t, out.Decision.Allowed)
	assert.Equal(t, "connection reset", out.ValidationError)
	assert.Zero(t, task.calls)
}

func TestRun_DecisionGrid(t *testing.T) {
	// Only the literal true in the response body permits the task.
	bodies := map[string]bool{
		`{"allowed":true,"code":"OK","request_id":"r"}`:    true,
		`{"allowed":false,"code":"OK","request_id":"r"}`:   false,
		`{"code":"OK","request_id":"r"}`:                   false,
		`{"allowed":"true","code":"OK","request_id":"r"}`:  false,
		`{"allowed":null,"code":"OK","request_id":"r"}`:    false,
	}

	for body, want := range bodies {
		t.Run(body, func(t *testing.T) {
			decision, err := machineid.ParseDecision([]byte(body))
			require.NoError(t, err)

			licenser := newFakeLicenser()
			licenser.decision = decision
			task := &fakeTask{}

			_, runErr := newTestGate(licenser, task).Run(context.Background(), testConfig)
			assert.Equal(t, want, task.calls == 1)
			assert.Equal(t, want, runErr == nil)
			if !want {
				assert.True(t, IsRefusal(runErr))
			}
		})
	}
}

func TestRun_TaskFailure(t *testing.T) {
	licenser := newFakeLicenser()
	task := &fakeTask{err: errors.New("openai: 401 unauthorized")}

	out, err := newTestGate(licenser, task).Run(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsDownstreamFailure(err))
	assert.True(t, out.TaskRan)
	assert.Equal(t, "openai: 401 unauthorized", out.TaskError)
	assert.Equal(t, 1, task.calls, "downstream failures are not retried")
}

func TestRun_WaitsBetweenRegisterAndValidate(t *testing.T) {
	licenser := newFakeLicenser()
	var waited time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waited = d
		assert.Equal(t, []string{"register"}, licenser.calls)
		return nil
	}

	_, err := newTestGate(licenser, &fakeTask{}, WithSleep(sleep)).Run(context.Background(), testConfig)
	require.NoError(t, err)
	assert.Equal(t, time.Second, waited)
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	licenser := newFakeLicenser()
	task := &fakeTask{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestGate(licenser, task, WithSleep(sleepContext))
	out, err := g.Run(ctx, testConfig)
	require.Error(t, err)
	assert.True(t, IsRefusal(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(out.ValidationError, "validation skipped"))
	assert.False(t, out.ValidationRan)
	assert.NotContains(t, licenser.calls, "validate")
	assert.Zero(t, task.calls)
}

func TestRegister_DoesNotValidate(t *testing.T) {
	licenser := newFakeLicenser()

	out, err := newTestGate(licenser, nil).Register(context.Background(), testConfig)
	require.NoError(t, err)
	assert.True(t, out.Registered())
	assert.True(t, out.RegistrationRan)
	assert.False(t, out.ValidationRan)
	assert.Equal(t, []string{"register"}, licenser.calls)
}

func TestCheck_DoesNotRegister(t *testing.T) {
	licenser := newFakeLicenser()
	licenser.decision = machineid.Decision{RawAllowed: "false", Code: "DEVICE_NOT_REGISTERED", RequestID: "r3"}

	out, err := newTestGate(licenser, nil).Check(context.Background(), testConfig)
	require.Error(t, err)
	assert.True(t, IsRefusal(err))
	assert.Equal(t, []string{"validate"}, licenser.calls)
	assert.False(t, out.RegistrationRan)
	assert.True(t, out.ValidationRan)
	assert.Equal(t, "DEVICE_NOT_REGISTERED", out.Decision.Code)
}

func TestRun_NilTaskAfterAllowed(t *testing.T) {
	out, err := newTestGate(newFakeLicenser(), nil).Run(context.Background(), testConfig)
	require.NoError(t, err)
	assert.False(t, out.TaskRan)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: ErrKindValidationRefused, Message: "execution denied", DeviceID: "d1", Err: errors.New("timeout")}
	assert.Equal(t, "VALIDATION_REFUSED: execution denied (device=d1): timeout", err.Error())

	kind, ok := KindOf(errors.Join(errors.New("outer"), err))
	require.True(t, ok)
	assert.Equal(t, ErrKindValidationRefused, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
