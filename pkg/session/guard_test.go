package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricekit/repricer/pkg/marketplace"
	"github.com/pricekit/repricer/pkg/resilience"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Policy{
		MaxRetries:             2,
		RateLimitedDelay:       time.Millisecond,
		ServerUnavailableDelay: time.Millisecond,
		ConnectionBaseDelay:    time.Millisecond,
		TransientDelay:         time.Millisecond,
		MaxDelay:               10 * time.Millisecond,
	}, getTestLogger())
}

// fakeSession scripts probe and login behavior.
type fakeSession struct {
	probeResults []bool
	probeErr     error
	probeCalls   int

	loginErr   error
	loginCalls int
}

func (s *fakeSession) IsAuthenticated(ctx context.Context) (bool, error) {
	defer func() { s.probeCalls++ }()
	if s.probeErr != nil {
		return false, s.probeErr
	}
	if s.probeCalls < len(s.probeResults) {
		return s.probeResults[s.probeCalls], nil
	}
	return true, nil
}

func (s *fakeSession) Login(ctx context.Context, creds marketplace.Credentials) error {
	s.loginCalls++
	return s.loginErr
}

func TestEnsureValidWithHealthySession(t *testing.T) {
	fake := &fakeSession{probeResults: []bool{true}}
	guard := NewGuard(Config{}, fake, getTestExecutor(), nil, getTestLogger())

	err := guard.EnsureValid(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, fake.probeCalls)
	assert.Equal(t, 0, fake.loginCalls)
}

func TestEnsureValidReauthenticatesOnce(t *testing.T) {
	fake := &fakeSession{probeResults: []bool{false}}
	guard := NewGuard(Config{
		Credentials: marketplace.Credentials{Username: "seller", Password: "secret"},
	}, fake, getTestExecutor(), nil, getTestLogger())

	err := guard.EnsureValid(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, fake.loginCalls)
}

func TestEnsureValidCredentialRejectionIsTerminal(t *testing.T) {
	fake := &fakeSession{
		probeResults: []bool{false},
		loginErr:     resilience.NewFailure(resilience.FailureFatal, "marketplace.login", marketplace.ErrNotAuthenticated),
	}
	guard := NewGuard(Config{}, fake, getTestExecutor(), nil, getTestLogger())

	err := guard.EnsureValid(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	// Fatal classification means no login retries.
	assert.Equal(t, 1, fake.loginCalls)
}

func TestEnsureValidRetriesTransientLoginFailure(t *testing.T) {
	fake := &fakeSession{
		probeResults: []bool{false},
		loginErr:     resilience.NewFailure(resilience.FailureTransient, "marketplace.login", errors.New("connection reset")),
	}
	guard := NewGuard(Config{}, fake, getTestExecutor(), nil, getTestLogger())

	err := guard.EnsureValid(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	// Transient login failures go through the retry executor.
	assert.Equal(t, 2, fake.loginCalls)
}

func TestEnsureValidCancelledContext(t *testing.T) {
	fake := &fakeSession{probeResults: []bool{false}}
	guard := NewGuard(Config{}, fake, getTestExecutor(), nil, getTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := guard.EnsureValid(ctx)

	require.Error(t, err)
	failure, ok := resilience.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, resilience.FailureCancelled, failure.Kind)
	assert.Equal(t, 0, fake.loginCalls)
}
